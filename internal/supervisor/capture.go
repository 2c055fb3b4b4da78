package supervisor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// NoErrorFingerprint identifies a failing run that printed no recognizable
// error line.
const NoErrorFingerprint = "no-error"

const maxRetainedOutput = 64 << 10

var errorSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|\s)(?:Error|TypeError|SyntaxError|ReferenceError|Exception):`),
	regexp.MustCompile(`\bat\s+.*:\d+:\d+`),
	regexp.MustCompile(`^\[ERROR\]`),
	regexp.MustCompile(`^FAIL\b`),
	regexp.MustCompile(`^--- FAIL:`),
	regexp.MustCompile(`(?i)uncaught`),
	regexp.MustCompile(`(?i)unhandled`),
	regexp.MustCompile(`(?i)undefined is not`),
	regexp.MustCompile(`(?i)cannot read propert`),
	regexp.MustCompile(`(?i)cannot find module`),
	regexp.MustCompile(`^panic:`),
	regexp.MustCompile(`^Traceback \(most recent call last\)`),
}

// IsErrorLine reports whether a cleaned output line looks like an error.
func IsErrorLine(line string) bool {
	for _, re := range errorSignatures {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Fingerprint hashes the captured error lines of one run.
func Fingerprint(errors []string) string {
	if len(errors) == 0 {
		return NoErrorFingerprint
	}
	sum := sha256.Sum256([]byte(strings.Join(errors, "|")))
	return hex.EncodeToString(sum[:])
}

// capture assembles PTY chunks into lines and records error lines once each.
type capture struct {
	partial  []byte
	output   bytes.Buffer
	errors   []string
	seen     map[string]struct{}
	first    string
	lastRing [3]string
	lastN    int
}

func newCapture() *capture {
	return &capture{seen: make(map[string]struct{})}
}

func (c *capture) Write(p []byte) (int, error) {
	if room := maxRetainedOutput - c.output.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		c.output.Write(p[:room])
	}

	data := append(c.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		c.line(string(data[:i]))
		data = data[i+1:]
	}
	// Output redrawn with \r alone never ends a line.
	if len(data) >= maxRetainedOutput {
		c.line(string(data))
		data = data[:0]
	}
	c.partial = append(c.partial[:0], data...)
	return len(p), nil
}

// flush treats any unterminated tail as a final line.
func (c *capture) flush() {
	if len(c.partial) > 0 {
		c.line(string(c.partial))
		c.partial = c.partial[:0]
	}
}

func (c *capture) line(raw string) {
	line := strings.TrimSpace(ansi.Strip(strings.TrimRight(raw, "\r")))
	if line == "" {
		return
	}
	if c.first == "" {
		c.first = line
	}
	c.lastRing[c.lastN%len(c.lastRing)] = line
	c.lastN++

	if !IsErrorLine(line) {
		return
	}
	if _, ok := c.seen[line]; ok {
		return
	}
	c.seen[line] = struct{}{}
	c.errors = append(c.errors, line)
}

// firstLine is the first non-empty output line.
func (c *capture) firstLine() string { return c.first }

// lastLines returns up to the last three non-empty lines, oldest first.
func (c *capture) lastLines() []string {
	n := min(c.lastN, len(c.lastRing))
	out := make([]string, 0, n)
	for i := c.lastN - n; i < c.lastN; i++ {
		out = append(out, c.lastRing[i%len(c.lastRing)])
	}
	return out
}

// text is the retained output with terminal escapes removed.
func (c *capture) text() string {
	return strings.ReplaceAll(ansi.Strip(c.output.String()), "\r\n", "\n")
}

// searchTerms are the strings matched against the knowledge base: every
// captured error, the first line and the last three lines joined.
func (c *capture) searchTerms() []string {
	terms := append([]string{}, c.errors...)
	if c.first != "" {
		terms = append(terms, c.first)
	}
	if last := c.lastLines(); len(last) > 0 {
		terms = append(terms, strings.Join(last, " "))
	}
	return terms
}
