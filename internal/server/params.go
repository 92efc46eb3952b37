package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/timerange"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// profileSortColumns are the columns a profile listing may be
// ordered by.
var profileSortColumns = []string{
	"fullname", "username", "email", "role", "status", "created_at",
}

// profileSearchColumns are matched by the free-text search.
var profileSearchColumns = []string{"fullname", "username", "email"}

// parseIntParam reads an optional integer query parameter.
// An absent parameter yields 0. A malformed one writes a 400
// and returns ok=false.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid %s parameter", name))
		return 0, false
	}
	return v, true
}

// clampLimit replaces non-positive limits with def and caps the
// result at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// parseRange resolves the window for a dashboard request.
// Explicit start/end bounds win over a named selector, which is
// read from the first of keys present. Unknown selectors mean
// all time. An invalid timezone or bound writes a 400.
func parseRange(
	w http.ResponseWriter, r *http.Request, now time.Time, keys ...string,
) (timerange.Range, bool) {
	q := r.URL.Query()

	loc := time.UTC
	if tz := q.Get("timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timezone")
			return timerange.Range{}, false
		}
		loc = l
	}

	start, end := q.Get("start"), q.Get("end")
	if start != "" || end != "" {
		rng, err := timerange.Custom(start, end, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return timerange.Range{}, false
		}
		return rng, true
	}

	var key string
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			key = v
			break
		}
	}
	return timerange.Resolve(timerange.Parse(key), now, loc), true
}

// querySpec is a parsed listing request.
type querySpec struct {
	Page     int
	PageSize int
	Query    db.Query
}

// pageCount returns the number of pages for total rows.
func (s querySpec) pageCount(total int) int {
	if total <= 0 || s.PageSize <= 0 {
		return 0
	}
	return (total + s.PageSize - 1) / s.PageSize
}

// parseQuerySpec reads page, page_size, search, role, status and
// sort from the URL into a profile query. Sort takes a comma list
// of columns, each optionally prefixed with "-" for descending.
func parseQuerySpec(
	w http.ResponseWriter, r *http.Request,
) (querySpec, bool) {
	page, ok := parseIntParam(w, r, "page")
	if !ok {
		return querySpec{}, false
	}
	size, ok := parseIntParam(w, r, "page_size")
	if !ok {
		return querySpec{}, false
	}
	qs := querySpec{
		Page:     max(page, 1),
		PageSize: clampLimit(size, defaultPageSize, maxPageSize),
	}

	q := r.URL.Query()
	query := db.Query{
		Columns: []string{
			"id", "fullname", "username", "email", "avatar_url",
			"role", "status", "country_code", "created_at",
		},
		Limit:  qs.PageSize,
		Offset: (qs.Page - 1) * qs.PageSize,
	}
	if s := strings.TrimSpace(q.Get("search")); s != "" {
		query.Search = s
		query.SearchColumns = profileSearchColumns
	}
	for _, col := range []string{"role", "status"} {
		if v := q.Get(col); v != "" {
			query.Filters = append(query.Filters, db.Eq(col, v))
		}
	}

	sorts, err := parseSort(q.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return querySpec{}, false
	}
	if len(sorts) == 0 {
		sorts = []db.Sort{{Column: "created_at", Desc: true}}
	}
	query.Sort = sorts
	qs.Query = query
	return qs, true
}

func parseSort(raw string) ([]db.Sort, error) {
	var sorts []db.Sort
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, desc := strings.CutPrefix(part, "-")
		if !lo.Contains(profileSortColumns, col) {
			return nil, fmt.Errorf("invalid sort column: %s", col)
		}
		sorts = append(sorts, db.Sort{Column: col, Desc: desc})
	}
	return sorts, nil
}
