package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const permanentLiteral = "permanent"

// Expiry is either Permanent or an absolute point in time.
// The zero value is an expiry at the zero time, which has always passed.
type Expiry struct {
	permanent bool
	at        time.Time
}

// Permanent returns the sentinel expiry that never lapses.
func Permanent() Expiry {
	return Expiry{permanent: true}
}

// At returns an expiry at the given time.
func At(t time.Time) Expiry {
	return Expiry{at: t}
}

// IsPermanent reports whether e is the Permanent sentinel.
func (e Expiry) IsPermanent() bool {
	return e.permanent
}

// Time returns the expiry instant. It is the zero time for Permanent.
func (e Expiry) Time() time.Time {
	if e.permanent {
		return time.Time{}
	}
	return e.at
}

// Passed reports whether a non-permanent expiry is at or before now.
func (e Expiry) Passed(now time.Time) bool {
	if e.permanent {
		return false
	}
	return !e.at.After(now)
}

// Add shifts a non-permanent expiry by d. It returns false for Permanent.
func (e Expiry) Add(d time.Duration) (Expiry, bool) {
	if e.permanent {
		return e, false
	}
	return At(e.at.Add(d)), true
}

// Remaining returns the time left until the expiry, floored at zero.
// The boolean is false for Permanent.
func (e Expiry) Remaining(now time.Time) (time.Duration, bool) {
	if e.permanent {
		return 0, false
	}
	left := e.at.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

func (e Expiry) String() string {
	if e.permanent {
		return permanentLiteral
	}
	return e.at.Format(time.RFC3339)
}

// MarshalJSON encodes Permanent as "permanent" and anything else as an RFC 3339 string.
func (e Expiry) MarshalJSON() ([]byte, error) {
	if e.permanent {
		return json.Marshal(permanentLiteral)
	}
	return json.Marshal(e.at.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts "permanent", an RFC 3339 string, or epoch milliseconds.
func (e *Expiry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == permanentLiteral {
			*e = Permanent()
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return errors.Wrapf(err, "invalid expiry %q", s)
		}
		*e = At(t)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return errors.Wrap(err, "invalid expiry")
	}
	*e = At(time.UnixMilli(ms))
	return nil
}

// Hours converts a whole number of hours to a duration.
func Hours(h int) time.Duration {
	return time.Duration(h) * time.Hour
}

// ParseTTL parses a duration spec as used in forms and config: the literal
// "permanent", a whole number of hours, or a Go duration string.
// The boolean result is true for "permanent".
func ParseTTL(spec string) (time.Duration, bool, error) {
	spec = strings.TrimSpace(spec)
	if strings.EqualFold(spec, permanentLiteral) {
		return 0, true, nil
	}
	if spec == "" {
		return 0, false, errors.New("empty duration")
	}
	if h, err := strconv.Atoi(spec); err == nil {
		return Hours(h), false, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return 0, false, errors.Wrapf(err, "invalid duration %q", spec)
	}
	return d, false, nil
}
