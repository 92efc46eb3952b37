package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// timeLayout is the canonical timestamp text stored in SQLite.
// Fixed-width second precision keeps lexicographic comparison
// equal to chronological order.
const timeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in the stored timestamp layout (UTC).
// The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// Row is one record from a source table, keyed by column name.
// Values are whatever the driver produced; use the typed
// accessors rather than asserting directly.
type Row map[string]any

// String returns the column as text. NULL and missing columns
// return "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case [16]byte:
		return uuid.UUID(v).String()
	case time.Time:
		return FormatTime(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil || dv == nil {
			return ""
		}
		return Row{col: dv}.String(col)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the column as an int, or 0 when it is NULL or
// not numeric.
func (r Row) Int(col string) int {
	switch v := r[col].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int16:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case nil:
		return 0
	default:
		n, err := strconv.Atoi(strings.TrimSpace(r.String(col)))
		if err != nil {
			return 0
		}
		return n
	}
}

// Bool interprets integer, boolean and "true"/"false" text
// columns.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case nil:
		return false
	case int64, int32, int:
		return r.Int(col) != 0
	default:
		b, _ := strconv.ParseBool(r.String(col))
		return b
	}
}

// Time parses the column as a timestamp. It accepts driver
// time values and RFC 3339 text.
func (r Row) Time(col string) (time.Time, bool) {
	switch v := r[col].(type) {
	case time.Time:
		return v, true
	case nil:
		return time.Time{}, false
	}
	s := r.String(col)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}

// JSON returns the column as raw JSON text. Postgres jsonb
// columns arrive decoded and are re-encoded here.
func (r Row) JSON(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Len returns the length of a JSON array column, or 0 when the
// value is NULL, malformed, or not an array.
func (r Row) Len(col string) int {
	if v, ok := r[col].([]any); ok {
		return len(v)
	}
	raw := r.JSON(col)
	if raw == "" || !gjson.Valid(raw) {
		return 0
	}
	res := gjson.Parse(raw)
	if !res.IsArray() {
		return 0
	}
	return int(gjson.Get(raw, "#").Int())
}

// Pluck returns the string value at path for every element of
// a JSON array column, skipping elements where it is missing.
func (r Row) Pluck(col, path string) []string {
	raw := r.JSON(col)
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	var out []string
	gjson.Parse(raw).ForEach(func(_, el gjson.Result) bool {
		v := el.Get(path)
		if v.Exists() && v.String() != "" {
			out = append(out, v.String())
		}
		return true
	})
	return out
}
