// Package duration parses operator time strings such as "1h30m", "2d" or "300"
// and formats durations for players.
package duration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Day is the largest unit accepted by Parse.
const Day = 24 * time.Hour

// ErrInvalid is wrapped by every Parse error.
var ErrInvalid = errors.New("invalid duration")

// Parse reads a duration made of <number><unit> groups (units d, h, m, s, case-insensitive,
// whitespace ignored) or a bare number of seconds. Unit-form input must not sum to zero.
func Parse(input string) (time.Duration, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalid)
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%w: negative value %q", ErrInvalid, input)
		}
		return time.Duration(secs) * time.Second, nil
	}

	var (
		total  time.Duration
		number strings.Builder
	)

	for _, c := range strings.ToLower(s) {
		switch {
		case unicode.IsDigit(c):
			number.WriteRune(c)

		case unicode.IsLetter(c):
			if number.Len() == 0 {
				return 0, fmt.Errorf("%w: unit without value in %q", ErrInvalid, input)
			}

			value, err := strconv.ParseInt(number.String(), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			number.Reset()

			var unit time.Duration
			switch c {
			case 'd':
				unit = Day
			case 'h':
				unit = time.Hour
			case 'm':
				unit = time.Minute
			case 's':
				unit = time.Second
			default:
				return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalid, c)
			}
			total += time.Duration(value) * unit

		case unicode.IsSpace(c):

		default:
			return 0, fmt.Errorf("%w: unexpected character %q", ErrInvalid, c)
		}
	}

	if number.Len() > 0 {
		return 0, fmt.Errorf("%w: value without unit %q", ErrInvalid, number.String())
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: zero duration", ErrInvalid)
	}

	return total, nil
}

// ParseList parses a comma-separated list of durations.
func ParseList(input string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(input, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}

		d, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

type unit struct {
	name  string
	value time.Duration
}

var units = []unit{
	{"day", Day},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// Format renders d in words with second precision, e.g. "1 hour, 1 minute, 5 seconds".
func Format(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d <= 0 {
		return "0 seconds"
	}

	parts := make([]string, 0, len(units))
	for _, u := range units {
		if d < u.value {
			continue
		}

		n := d / u.value
		d -= n * u.value

		name := u.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, strconv.FormatInt(int64(n), 10)+" "+name)
	}

	return strings.Join(parts, ", ")
}

// FormatCompact renders d as e.g. "1d 1h 5s".
func FormatCompact(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d <= 0 {
		return "0s"
	}

	parts := make([]string, 0, len(units))
	for _, u := range units {
		if d < u.value {
			continue
		}

		n := d / u.value
		d -= n * u.value
		parts = append(parts, strconv.FormatInt(int64(n), 10)+u.name[:1])
	}

	return strings.Join(parts, " ")
}
