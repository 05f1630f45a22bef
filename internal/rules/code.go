package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Code is a descriptor in the WMO FXY space, stored as the six-digit integer
// FXXYYY. Leading zeros are not significant: 22043 and 022043 are the same code.
type Code int

// ParseCode accepts "22043", "022043" or the dashed form "0-22-043".
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("descriptor code: empty")
	}
	if parts := strings.Split(s, "-"); len(parts) == 3 {
		f, errF := strconv.Atoi(parts[0])
		x, errX := strconv.Atoi(parts[1])
		y, errY := strconv.Atoi(parts[2])
		if errF != nil || errX != nil || errY != nil {
			return 0, fmt.Errorf("descriptor code %q: not numeric", s)
		}
		if f < 0 || f > 3 || x < 0 || x > 63 || y < 0 || y > 255 {
			return 0, fmt.Errorf("descriptor code %q: out of range", s)
		}
		return Code(f*100000 + x*1000 + y), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("descriptor code %q: not numeric", s)
	}
	if n <= 0 || n > 363255 {
		return 0, fmt.Errorf("descriptor code %q: out of range", s)
	}
	return Code(n), nil
}

// F returns the descriptor class: 0 element, 1 replication, 2 operator, 3 sequence.
func (c Code) F() int { return int(c) / 100000 }

// Structural reports whether the code opens a group rather than carrying a value.
func (c Code) Structural() bool {
	f := c.F()
	return f == 1 || f == 3
}

func (c Code) String() string {
	return fmt.Sprintf("%06d", int(c))
}
