package scan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical scan date format.
const DateLayout = "2006-01-02"

// Key identifies the subject of a pipeline instance. At most one pipeline
// runs per key at any time.
type Key struct {
	UserID string
	Date   string
}

// String renders the deterministic instance key.
func (k Key) String() string {
	return k.UserID + ":" + k.Date
}

// InstanceKey builds the deterministic instance key for (userID, date).
func InstanceKey(userID, date string) string {
	return Key{UserID: userID, Date: date}.String()
}

// ParseKey splits an instance key produced by Key.String.
func ParseKey(value string) (Key, error) {
	idx := strings.LastIndexByte(value, ':')
	if idx <= 0 || idx == len(value)-1 {
		return Key{}, fmt.Errorf("malformed instance key %q", value)
	}
	key := Key{UserID: value[:idx], Date: value[idx+1:]}
	return key, key.Validate()
}

// Validate checks the user and date parts.
func (k Key) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return errors.New("userId is required")
	}
	if _, err := ParseDate(k.Date); err != nil {
		return err
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD scan date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", value)
	}
	return t, nil
}

// DaysBetween returns the whole days from earlier to later.
func DaysBetween(earlier, later string) (int, error) {
	a, err := ParseDate(earlier)
	if err != nil {
		return 0, err
	}
	b, err := ParseDate(later)
	if err != nil {
		return 0, err
	}
	return int(b.Sub(a).Hours() / 24), nil
}

// AddDays shifts a scan date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}
