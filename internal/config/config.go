package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/hdmimatrix/internal/connectionmgr"
	"github.com/rjboer/hdmimatrix/internal/logging"
	"github.com/rjboer/hdmimatrix/internal/matrix"
)

// Config is the file layout read by matrixctl.
type Config struct {
	Matrix  MatrixConfig   `yaml:"matrix"`
	Logging logging.Config `yaml:"logging"`
}

// MatrixConfig describes how to reach one matrix and how to frame replies.
type MatrixConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// CommandDeadline caps a single reply; 0 leaves it unbounded.
	CommandDeadline time.Duration `yaml:"command_deadline"`

	// Sources and Zones name inputs and outputs in port order.
	Sources []string `yaml:"sources"`
	Zones   []string `yaml:"zones"`
}

// Default returns a Config with every default filled in except the host.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Port:         connectionmgr.DefaultPort,
			Transport:    "raw",
			DialTimeout:  connectionmgr.DefaultDialTimeout,
			IdleTimeout:  connectionmgr.DefaultIdleTimeout,
			WriteTimeout: connectionmgr.DefaultWriteTimeout,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path on top of the defaults and then applies environment
// overrides. An empty path or a missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MATRIX_HOST"); v != "" {
		c.Matrix.Host = v
	}
	if v := os.Getenv("MATRIX_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MATRIX_PORT: %w", err)
		}
		c.Matrix.Port = p
	}
	if v := os.Getenv("MATRIX_TRANSPORT"); v != "" {
		c.Matrix.Transport = v
	}
	if v := os.Getenv("MATRIX_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MATRIX_IDLE_TIMEOUT: %w", err)
		}
		c.Matrix.IdleTimeout = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Logging.FileEnabled = enabled
		}
	}
	if v := os.Getenv("LOG_FILE_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	return nil
}

// Validate checks the matrix section.
func (c *Config) Validate() error {
	m := c.Matrix
	if m.Host == "" {
		return errors.New("matrix.host is required")
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("matrix.port %d out of range", m.Port)
	}
	if _, err := connectionmgr.ParseTransport(m.Transport); err != nil {
		return fmt.Errorf("matrix.transport: %w", err)
	}
	if m.IdleTimeout <= 0 {
		return fmt.Errorf("matrix.idle_timeout must be positive, got %s", m.IdleTimeout)
	}
	if m.DialTimeout < 0 || m.WriteTimeout < 0 || m.CommandDeadline < 0 {
		return errors.New("matrix timeouts must not be negative")
	}
	if m.CommandDeadline > 0 && m.CommandDeadline < m.IdleTimeout {
		return fmt.Errorf("matrix.command_deadline %s is shorter than idle_timeout %s", m.CommandDeadline, m.IdleTimeout)
	}
	if err := m.Layout().Validate(); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	return nil
}

// Layout returns the configured port names.
func (m MatrixConfig) Layout() matrix.Layout {
	return matrix.Layout{Sources: m.Sources, Zones: m.Zones}
}

// Address returns host:port.
func (m MatrixConfig) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Apply copies the matrix settings onto a connection manager.
func (m MatrixConfig) Apply(mgr *connectionmgr.Manager) error {
	tr, err := connectionmgr.ParseTransport(m.Transport)
	if err != nil {
		return err
	}
	mgr.Address = m.Address()
	mgr.Transport = tr
	mgr.DialTimeout = m.DialTimeout
	mgr.IdleTimeout = m.IdleTimeout
	mgr.WriteTimeout = m.WriteTimeout
	mgr.CommandDeadline = m.CommandDeadline
	return nil
}
