package repository

import (
	"database/sql"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $n placeholders to ?n for SQLite. Queries are written in
// Postgres form.
func rebind(driver, query string) string {
	if driver != "sqlite" {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

// inList renders "$start, $start+1, ..." for n values.
func inList(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ", ")
}

// flag stores booleans as 0/1 so both drivers share one column type.
func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
