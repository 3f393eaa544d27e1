package settings

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	// MinPort is the lowest port iperf is allowed to bind to or connect to.
	MinPort = 1024
	// MaxPort is the highest valid TCP/UDP port.
	MaxPort = 65535
)

// validator checks a value and returns its command-line representation.
type validator func(v any) (string, error)

// reject is a shortcut for the validators below: the option name is filled
// in by the ParameterSet.
func reject(v any, format string, args ...any) error {
	return &ValidationError{Value: v, Reason: fmt.Sprintf(format, args...)}
}

// oneOf accepts exactly one character from the given set.
func oneOf(chars string) validator {
	return func(v any) (string, error) {
		s, ok := v.(string)
		if !ok || len(s) != 1 || !strings.Contains(chars, s) {
			return "", reject(v, "expected one of %q", chars)
		}
		return s, nil
	}
}

// someOf accepts one or more characters, each from the given set.
func someOf(chars string) validator {
	return func(v any) (string, error) {
		s, ok := v.(string)
		if !ok || s == "" {
			return "", reject(v, "expected characters from %q", chars)
		}
		for _, c := range s {
			if !strings.ContainsRune(chars, c) {
				return "", reject(v, "unexpected character %q, expected characters from %q", c, chars)
			}
		}
		return s, nil
	}
}

// sizeUnits are the unit suffixes iperf accepts on sizes and rates. iperf
// itself is case-insensitive here.
const sizeUnits = "KMkm"

var sizeExpr = regexp.MustCompile(`^[0-9]+([A-Za-z]?)$`)

// sizeWithUnit accepts a number, or a string of digits optionally followed by
// exactly one unit character.
func sizeWithUnit(units string) validator {
	return func(v any) (string, error) {
		if s, ok := v.(string); ok {
			match := sizeExpr.FindStringSubmatch(s)
			if match == nil {
				return "", reject(v, "expected <number>[%s]", units)
			}
			if unit := match[1]; unit != "" && !strings.Contains(units, unit) {
				return "", reject(v, "unknown unit %q, expected one of %q", unit, units)
			}
			return s, nil
		}

		n, ok := number(v)
		if !ok {
			return "", reject(v, "expected <number>[%s]", units)
		}
		return n, nil
	}
}

// port accepts integers in [MinPort, MaxPort].
func port() validator {
	return func(v any) (string, error) {
		n, err := integer(v)
		if err != nil {
			return "", reject(v, "expected a port number")
		}
		if n < MinPort || n > MaxPort {
			return "", reject(v, "port must be in [%d, %d]", MinPort, MaxPort)
		}
		return strconv.FormatInt(n, 10), nil
	}
}

// nonNegative accepts any number greater than or equal to zero.
func nonNegative() validator {
	return func(v any) (string, error) {
		f, err := float(v)
		if err != nil {
			return "", reject(v, "expected a number")
		}
		if f < 0 {
			return "", reject(v, "must not be negative")
		}
		return render(v), nil
	}
}

// anyNumber accepts any number, negative ones included.
func anyNumber() validator {
	return func(v any) (string, error) {
		if _, err := float(v); err != nil {
			return "", reject(v, "expected a number")
		}
		return render(v), nil
	}
}

// count accepts non-negative integers.
func count() validator {
	return func(v any) (string, error) {
		n, err := integer(v)
		if err != nil {
			return "", reject(v, "expected an integer")
		}
		if n < 0 {
			return "", reject(v, "must not be negative")
		}
		return strconv.FormatInt(n, 10), nil
	}
}

// word accepts non-empty strings without whitespace.
func word() validator {
	return func(v any) (string, error) {
		s, ok := v.(string)
		if !ok || s == "" {
			return "", reject(v, "expected a non-empty string")
		}
		if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
			return "", reject(v, "must not contain whitespace")
		}
		return s, nil
	}
}

// truthy reports whether a flag value turns the flag on.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "", "0", "false", "off", "no", "n", "f":
			return false
		}
		return true
	}

	if f, err := float(v); err == nil {
		return f != 0
	}
	return true
}

// number renders numeric values of any Go numeric kind.
func number(v any) (string, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return render(v), true
	}
	return "", false
}

func render(v any) string {
	switch v := v.(type) {
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	}
	return fmt.Sprint(v)
}

// float converts numeric values and numeric strings to float64.
func float(v any) (float64, error) {
	switch v := v.(type) {
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// integer converts integral values and integer strings to int64.
func integer(v any) (int64, error) {
	if s, ok := v.(string); ok {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	f, err := float(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", v)
	}
	return int64(f), nil
}
