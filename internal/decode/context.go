package decode

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

// ContextStack is the path of structural codes currently open, outermost first.
type ContextStack struct {
	codes []rules.Code
}

// Push opens a group.
func (s *ContextStack) Push(code rules.Code) {
	s.codes = append(s.codes, code)
}

// Pop closes the innermost group, which must be code.
func (s *ContextStack) Pop(code rules.Code) error {
	if len(s.codes) == 0 {
		return fmt.Errorf("leave %s with no open group", code)
	}
	top := s.codes[len(s.codes)-1]
	if top != code {
		return fmt.Errorf("leave %s while %s is open", code, top)
	}
	s.codes = s.codes[:len(s.codes)-1]
	return nil
}

// Path returns the open codes. The slice is only valid until the next Push or Pop.
func (s *ContextStack) Path() []rules.Code {
	return s.codes[:len(s.codes):len(s.codes)]
}

func (s *ContextStack) Depth() int { return len(s.codes) }

func (s *ContextStack) Reset() { s.codes = s.codes[:0] }

// String renders the path as "306004>107000".
func (s *ContextStack) String() string {
	parts := make([]string, len(s.codes))
	for i, c := range s.codes {
		parts[i] = c.String()
	}
	return strings.Join(parts, ">")
}
