package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/hdmimatrix/internal/connectionmgr"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "matrix.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 23, cfg.Matrix.Port)
	assert.Equal(t, 300*time.Millisecond, cfg.Matrix.IdleTimeout)
	assert.Zero(t, cfg.Matrix.CommandDeadline)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, `
matrix:
  host: 192.168.1.50
  port: 2323
  transport: telnet
  idle_timeout: 750ms
  command_deadline: 10s
  sources: [Apple TV, PS5]
  zones:
    - Living Room
    - Kitchen
logging:
  level: DEBUG
  console_format: json
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "192.168.1.50", cfg.Matrix.Host)
	assert.Equal(t, "192.168.1.50:2323", cfg.Matrix.Address())
	assert.Equal(t, "telnet", cfg.Matrix.Transport)
	assert.Equal(t, 750*time.Millisecond, cfg.Matrix.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Matrix.CommandDeadline)
	assert.Equal(t, 5*time.Second, cfg.Matrix.DialTimeout, "unset keys keep defaults")
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleFormat)

	l := cfg.Matrix.Layout()
	assert.Equal(t, []string{"Apple TV", "PS5"}, l.Sources)
	id, ok := l.ZoneID("Kitchen")
	assert.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	p := writeFile(t, "matrix: [unclosed")
	_, err := Load(p)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MATRIX_HOST", "matrix.lan")
	t.Setenv("MATRIX_PORT", "4001")
	t.Setenv("MATRIX_IDLE_TIMEOUT", "1s")
	t.Setenv("LOG_LEVEL", "WARN")

	p := writeFile(t, "matrix:\n  host: ignored\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "matrix.lan", cfg.Matrix.Host)
	assert.Equal(t, 4001, cfg.Matrix.Port)
	assert.Equal(t, time.Second, cfg.Matrix.IdleTimeout)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}

func TestEnvBadPort(t *testing.T) {
	t.Setenv("MATRIX_PORT", "telnet")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.Matrix.Host = "10.0.0.9"
		return c
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"no host":         func(c *Config) { c.Matrix.Host = "" },
		"bad port":        func(c *Config) { c.Matrix.Port = 70000 },
		"bad transport":   func(c *Config) { c.Matrix.Transport = "serial" },
		"zero idle":       func(c *Config) { c.Matrix.IdleTimeout = 0 },
		"negative dial":   func(c *Config) { c.Matrix.DialTimeout = -time.Second },
		"deadline < idle": func(c *Config) { c.Matrix.CommandDeadline = 100 * time.Millisecond },
		"duplicate zone":  func(c *Config) { c.Matrix.Zones = []string{"Den", "Den"} },
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestApply(t *testing.T) {
	c := Default()
	c.Matrix.Host = "10.0.0.9"
	c.Matrix.Transport = "telnet"
	c.Matrix.CommandDeadline = 3 * time.Second

	m := connectionmgr.New("")
	require.NoError(t, c.Matrix.Apply(m))

	assert.Equal(t, "10.0.0.9:23", m.Address)
	assert.Equal(t, connectionmgr.TransportTelnet, m.Transport)
	assert.Equal(t, 3*time.Second, m.CommandDeadline)
	assert.Equal(t, 300*time.Millisecond, m.IdleTimeout)
}
