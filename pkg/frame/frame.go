package frame

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	StartMarker = "$"
	EndMarker   = ";"
	Separator   = ","
)

// Frame is one complete protocol message: "$" + body + ";".
type Frame string

// New wraps body in the frame envelope.
func New(body string) Frame {
	return Frame(StartMarker + body + EndMarker)
}

// Valid reports whether the envelope is intact.
func (f Frame) Valid() bool {
	s := string(f)
	return len(s) >= 2 && strings.HasPrefix(s, StartMarker) && strings.HasSuffix(s, EndMarker)
}

// Body strips the envelope. An invalid frame yields "".
func (f Frame) Body() string {
	if !f.Valid() {
		return ""
	}
	s := string(f)
	return s[len(StartMarker) : len(s)-len(EndMarker)]
}

// Fields splits the body on the separator.
func (f Frame) Fields() []string {
	return strings.Split(f.Body(), Separator)
}

func (f Frame) Bytes() []byte {
	return []byte(f)
}

func (f Frame) String() string {
	return string(f)
}

// Check verifies that f is well formed for class: intact envelope, no
// embedded markers, the class arity for fixed-arity classes and numeric
// tokens for every non-text class.
func Check(class Class, f Frame) error {
	if !f.Valid() {
		return fmt.Errorf("frame %q: missing %s...%s envelope", f, StartMarker, EndMarker)
	}
	body := f.Body()
	if strings.ContainsAny(body, StartMarker+EndMarker) {
		return fmt.Errorf("frame %q: embedded delimiter", f)
	}
	spec, ok := registry[class]
	if !ok {
		return &ConfigurationError{Class: class, Reason: "unsupported capability class"}
	}
	if spec.text {
		return nil
	}
	fields := strings.Split(body, Separator)
	if !spec.variable && len(fields) != spec.arity {
		return fmt.Errorf("frame %q: %d fields, %s requires %d", f, len(fields), class, spec.arity)
	}
	for _, field := range fields {
		if _, err := strconv.ParseFloat(field, 64); err != nil {
			return fmt.Errorf("frame %q: invalid number %q", f, field)
		}
	}
	return nil
}
