package reply

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformed reports a reply line that does not carry the expected fields.
var ErrMalformed = errors.New("malformed reply line")

// Direction selects which side of the matrix a link query addresses.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Keys returns the tokens that introduce a port id for this direction.
func (d Direction) Keys() []string {
	if d == Out {
		return outputKeys
	}
	return inputKeys
}

var (
	inputKeys  = []string{"input", "in"}
	outputKeys = []string{"output", "out"}

	separators = strings.NewReplacer("->", " ", ":", " ", ">", " ", "=", " ", ",", " ")
)

// Tokens normalizes a reply line into lowercase words. Separators become
// spaces and letter/digit runs are split, so "1>OUT01:IN02" becomes
// [1 out 01 in 02] and "Output 3 -> Input 1" becomes [output 3 input 1].
func Tokens(line string) []string {
	s := separators.Replace(strings.ToLower(line))

	var b strings.Builder
	b.Grow(len(s) + 8)
	var prev rune
	for i, r := range s {
		if i > 0 && (unicode.IsLetter(prev) && unicode.IsDigit(r) || unicode.IsDigit(prev) && unicode.IsLetter(r)) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.Fields(b.String())
}

// IntAfter scans tokens for any of keys and parses the token that follows
// it. The last occurrence wins. found is false when no key is followed by a
// token; err is set when the following token is not an integer.
func IntAfter(tokens []string, keys ...string) (val int, found bool, err error) {
	for i := 0; i < len(tokens)-1; i++ {
		if !isKey(tokens[i], keys) {
			continue
		}
		n, convErr := strconv.Atoi(tokens[i+1])
		if convErr != nil {
			return 0, true, fmt.Errorf("%w: %q after %q", ErrMalformed, tokens[i+1], tokens[i])
		}
		val, found = n, true
	}
	return val, found, nil
}

func isKey(tok string, keys []string) bool {
	for _, k := range keys {
		if tok == k {
			return true
		}
	}
	return false
}

// Source extracts the input id from a single-output routing reply.
func Source(line string) (int, bool) {
	in, found, err := IntAfter(Tokens(line), inputKeys...)
	if err != nil || !found {
		return 0, false
	}
	return in, true
}

// Route extracts an (output, input) pair from one line of a query-all
// routing reply.
func Route(line string) (out, in int, err error) {
	toks := Tokens(line)

	out, found, err := IntAfter(toks, outputKeys...)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, fmt.Errorf("%w: no output id in %q", ErrMalformed, line)
	}

	in, found, err = IntAfter(toks, inputKeys...)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, fmt.Errorf("%w: no input id in %q", ErrMalformed, line)
	}
	return out, in, nil
}

// Connected reports the link state of a link reply line.
func Connected(line string) bool {
	return !strings.Contains(strings.ToLower(line), "disconnect")
}

// PowerOn reports the power state of a power reply line.
func PowerOn(line string) bool {
	return strings.Contains(strings.ToLower(line), "on")
}

// LinkPort extracts the port id and link state from one line of a query-all
// link reply.
func LinkPort(line string, dir Direction) (port int, connected bool, err error) {
	port, found, err := IntAfter(Tokens(line), dir.Keys()...)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, fmt.Errorf("%w: no %s port id in %q", ErrMalformed, dir, line)
	}
	return port, Connected(line), nil
}

// Routes builds an output->input map from a query-all routing reply. Lines
// are parsed independently; any failure discards the whole map.
func Routes(lines []string) (map[int]int, error) {
	m := make(map[int]int, len(lines))
	for _, line := range lines {
		out, in, err := Route(line)
		if err != nil {
			return nil, err
		}
		m[out] = in
	}
	return m, nil
}

// Links builds a port->connected map from a query-all link reply with the
// same all-or-nothing policy as Routes.
func Links(lines []string, dir Direction) (map[int]bool, error) {
	m := make(map[int]bool, len(lines))
	for _, line := range lines {
		port, ok, err := LinkPort(line, dir)
		if err != nil {
			return nil, err
		}
		m[port] = ok
	}
	return m, nil
}
