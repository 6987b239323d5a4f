package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/vndarlan/chegou-autoads/internal/config"
)

// sqlite keeps timestamps as text in this layout: fixed width, so it sorts like the instant.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

var parseLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// timeArg converts an instant into the driver's bind value, always in UTC.
func (s *Store) timeArg(t time.Time) any {
	t = t.UTC()
	if s.driver == config.DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// dateArg binds a calendar date (no time of day).
func (s *Store) dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	d := t.UTC()
	if s.driver == config.DriverSQLite {
		return d.Format("2006-01-02")
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// nullTime scans timestamps from either backend. Values without zone information are UTC.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	n.Time, n.Valid = time.Time{}, false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	case int64:
		n.Time, n.Valid = time.Unix(v, 0).UTC(), true
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (n *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

func (n nullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
