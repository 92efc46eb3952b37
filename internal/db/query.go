package db

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quizhub/adminview/internal/timerange"
)

var (
	// ErrUnknownTable is returned for tables outside the schema.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned for columns outside a table's schema.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTimestamp is returned for timestamp column values
	// that cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// maxSQLVars is the maximum bind variables per IN clause to stay
// within SQLite's default SQLITE_MAX_VARIABLE_NUMBER (999).
const maxSQLVars = 500

// tableColumns is the schema whitelist. Identifiers reaching
// SQL text are always checked against it.
var tableColumns = map[string][]string{
	"profiles": {
		"id", "fullname", "username", "email", "avatar_url",
		"role", "status", "country_code", "state_id", "city_id",
		"created_at",
	},
	"quizzes": {
		"id", "title", "category", "creator_id", "status",
		"is_public", "questions", "created_at",
	},
	"game_sessions": {
		"id", "quiz_id", "host_id", "application", "status",
		"participants", "current_questions", "duration_seconds",
		"created_at", "ended_at",
	},
	"reports": {
		"id", "quiz_id", "reporter_id", "reported_user_id",
		"reason", "status", "created_at",
	},
	"groups": {
		"id", "name", "owner_id", "members", "created_at",
	},
	"subscriptions": {
		"id", "profile_id", "plan", "amount", "currency",
		"status", "created_at",
	},
	"countries": {"id", "code", "name"},
	"states":    {"id", "country_id", "name"},
	"cities":    {"id", "state_id", "name"},
}

// jsonColumns hold JSON arrays: TEXT on SQLite, jsonb on Postgres.
var jsonColumns = map[string]bool{
	"participants":      true,
	"current_questions": true,
	"questions":         true,
	"members":           true,
}

// timeColumns are stored in the canonical UTC layout so range
// predicates compare chronologically.
var timeColumns = map[string]bool{
	"created_at": true,
	"ended_at":   true,
}

// normalizeTime converts a timestamp column value to UTC time.
// Empty values become nil.
func normalizeTime(table, col string, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if x.IsZero() {
			return nil, nil
		}
		return x.UTC(), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
	}
	t, ok := Row{col: v}.Time(col)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s = %v",
			ErrInvalidTimestamp, table, col, v)
	}
	return t.UTC(), nil
}

// Columns returns the known columns of table.
func Columns(table string) ([]string, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return cols, nil
}

func checkColumns(table string, cols ...string) error {
	known, err := Columns(table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		found := false
		for _, k := range known {
			if k == c {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, c)
		}
	}
	return nil
}

// Op is a filter comparison.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpILike  Op = "ilike"
	OpGte    Op = "gte"
	OpGt     Op = "gt"
	OpLte    Op = "lte"
	OpLt     Op = "lt"
	OpIn     Op = "in"
	OpIsNull Op = "is_null"
)

// Filter is one column predicate.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq matches rows whose column equals v.
func Eq(col string, v any) Filter { return Filter{col, OpEq, v} }

// In matches rows whose column is one of vs.
func In(col string, vs []string) Filter { return Filter{col, OpIn, vs} }

// Lte matches rows whose column is at most v.
func Lte(col string, v any) Filter { return Filter{col, OpLte, v} }

// Sort orders results by one column.
type Sort struct {
	Column string
	Desc   bool
}

// Query describes one table read: filters, free-text search,
// a time window, ordering and pagination. Limit 0 means no cap.
type Query struct {
	Columns       []string
	Filters       []Filter // ANDed
	Or            []Filter // ORed together, ANDed with Filters
	Search        string
	SearchColumns []string
	TimeColumn    string // defaults to created_at
	Range         timerange.Range
	Sort          []Sort
	Offset        int
	Limit         int
}

// Page is the result of a table read.
type Page struct {
	Rows       []Row `json:"rows"`
	TotalCount int   `json:"total_count"`
}

// dialect captures placeholder and operator differences.
type dialect struct {
	placeholder func(n int) string
	ilike       string
	timeArg     func(time.Time) any
	// jsonText renders a JSON column as text for pattern matching.
	jsonText func(col string) string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	// LIKE is case-insensitive for ASCII in SQLite.
	ilike:    "LIKE",
	timeArg:  func(t time.Time) any { return FormatTime(t) },
	jsonText: func(col string) string { return col },
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	ilike:       "ILIKE",
	timeArg:     func(t time.Time) any { return t.UTC() },
	jsonText:    func(col string) string { return col + "::text" },
}

// builder accumulates bind arguments for one statement.
type builder struct {
	d    dialect
	args []any
}

func (b *builder) arg(v any) string {
	if t, ok := v.(time.Time); ok {
		v = b.d.timeArg(t)
	}
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

// inList returns "(p1,p2,...)" binding every id.
func (b *builder) inList(ids []string) string {
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = b.arg(id)
	}
	return "(" + strings.Join(ph, ",") + ")"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// escapeLike escapes LIKE wildcards in user-supplied text.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (b *builder) predicate(f Filter) (string, error) {
	col := quoteIdent(f.Column)
	switch f.Op {
	case OpEq:
		return col + " = " + b.arg(f.Value), nil
	case OpNeq:
		return col + " <> " + b.arg(f.Value), nil
	case OpILike:
		if jsonColumns[f.Column] {
			col = b.d.jsonText(col)
		}
		return col + " " + b.d.ilike + " " + b.arg(f.Value) +
			` ESCAPE '\'`, nil
	case OpGte:
		return col + " >= " + b.arg(f.Value), nil
	case OpGt:
		return col + " > " + b.arg(f.Value), nil
	case OpLte:
		return col + " <= " + b.arg(f.Value), nil
	case OpLt:
		return col + " < " + b.arg(f.Value), nil
	case OpIsNull:
		if v, ok := f.Value.(bool); ok && !v {
			return col + " IS NOT NULL", nil
		}
		return col + " IS NULL", nil
	case OpIn:
		vals, err := stringSlice(f.Value)
		if err != nil {
			return "", fmt.Errorf("filter %s: %w", f.Column, err)
		}
		if len(vals) == 0 {
			return "1 = 0", nil
		}
		return col + " IN " + b.inList(vals), nil
	default:
		return "", fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

func stringSlice(v any) ([]string, error) {
	switch vs := v.(type) {
	case []string:
		return vs, nil
	case []any:
		out := make([]string, len(vs))
		for i, x := range vs {
			out[i] = fmt.Sprint(x)
		}
		return out, nil
	case string:
		return []string{vs}, nil
	default:
		return nil, fmt.Errorf("IN expects a list, got %T", v)
	}
}

// where builds the WHERE clause body for q against table.
func (b *builder) where(table string, q Query) (string, error) {
	var preds []string

	for _, f := range q.Filters {
		if err := checkColumns(table, f.Column); err != nil {
			return "", err
		}
		p, err := b.predicate(f)
		if err != nil {
			return "", err
		}
		preds = append(preds, p)
	}

	var ors []string
	for _, f := range q.Or {
		if err := checkColumns(table, f.Column); err != nil {
			return "", err
		}
		p, err := b.predicate(f)
		if err != nil {
			return "", err
		}
		ors = append(ors, p)
	}
	if q.Search != "" {
		pattern := "%" + escapeLike(q.Search) + "%"
		for _, c := range q.SearchColumns {
			if err := checkColumns(table, c); err != nil {
				return "", err
			}
			p, _ := b.predicate(Filter{c, OpILike, pattern})
			ors = append(ors, p)
		}
	}
	if len(ors) > 0 {
		preds = append(preds, "("+strings.Join(ors, " OR ")+")")
	}

	if !q.Range.Unbounded() {
		tc := q.TimeColumn
		if tc == "" {
			tc = "created_at"
		}
		if err := checkColumns(table, tc); err != nil {
			return "", err
		}
		if !q.Range.Start.IsZero() {
			preds = append(preds,
				quoteIdent(tc)+" >= "+b.arg(q.Range.Start))
		}
		if !q.Range.End.IsZero() {
			preds = append(preds,
				quoteIdent(tc)+" < "+b.arg(q.Range.End))
		}
	}

	if len(preds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(preds, " AND "), nil
}

// selectList validates and renders the projected columns.
func selectList(table string, cols []string) (string, error) {
	if len(cols) == 0 {
		var err error
		cols, err = Columns(table)
		if err != nil {
			return "", err
		}
	}
	if err := checkColumns(table, cols...); err != nil {
		return "", err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", "), nil
}

// pageStatements returns the row query and, when paginating,
// the matching count query. Both share one argument list.
func pageStatements(
	d dialect, table string, q Query,
) (rowsSQL, countSQL string, args []any, err error) {
	cols, err := selectList(table, q.Columns)
	if err != nil {
		return "", "", nil, err
	}
	b := &builder{d: d}
	where, err := b.where(table, q)
	if err != nil {
		return "", "", nil, err
	}

	from := " FROM " + quoteIdent(table) + " WHERE " + where
	countSQL = "SELECT COUNT(*)" + from

	var order []string
	for _, s := range q.Sort {
		if err := checkColumns(table, s.Column); err != nil {
			return "", "", nil, err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		order = append(order, quoteIdent(s.Column)+" "+dir)
	}
	// id last so pages are stable across equal sort keys
	order = append(order, quoteIdent("id")+" ASC")

	rowsSQL = "SELECT " + cols + from +
		" ORDER BY " + strings.Join(order, ", ")
	if q.Limit > 0 {
		rowsSQL += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			rowsSQL += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}
	return rowsSQL, countSQL, b.args, nil
}

// byIDStatement returns a SELECT for one chunk of ids.
func byIDStatement(
	d dialect, table string, ids, cols []string,
) (string, []any, error) {
	list, err := selectList(table, cols)
	if err != nil {
		return "", nil, err
	}
	b := &builder{d: d}
	return "SELECT " + list + " FROM " + quoteIdent(table) +
		" WHERE " + quoteIdent("id") + " IN " + b.inList(ids), b.args, nil
}

// deleteStatement returns a DELETE for one chunk of ids,
// restricted to rows matching every guard.
func deleteStatement(
	d dialect, table string, ids []string, guards ...Filter,
) (string, []any, error) {
	if _, err := Columns(table); err != nil {
		return "", nil, err
	}
	b := &builder{d: d}
	preds := []string{quoteIdent("id") + " IN " + b.inList(ids)}
	for _, g := range guards {
		if err := checkColumns(table, g.Column); err != nil {
			return "", nil, err
		}
		p, err := b.predicate(g)
		if err != nil {
			return "", nil, err
		}
		preds = append(preds, p)
	}
	return "DELETE FROM " + quoteIdent(table) +
		" WHERE " + strings.Join(preds, " AND "), b.args, nil
}

// updateStatement returns an UPDATE setting the given columns
// on one row. Columns are emitted in sorted order.
func updateStatement(
	d dialect, table, id string, set map[string]any,
) (string, []any, error) {
	if len(set) == 0 {
		return "", nil, errors.New("no columns to update")
	}
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := checkColumns(table, cols...); err != nil {
		return "", nil, err
	}
	b := &builder{d: d}
	assigns := make([]string, len(cols))
	for i, c := range cols {
		v := set[c]
		if timeColumns[c] {
			var err error
			if v, err = normalizeTime(table, c, v); err != nil {
				return "", nil, err
			}
		}
		assigns[i] = quoteIdent(c) + " = " + b.arg(v)
	}
	return "UPDATE " + quoteIdent(table) + " SET " +
		strings.Join(assigns, ", ") +
		" WHERE " + quoteIdent("id") + " = " + b.arg(id), b.args, nil
}

// insertStatement returns an INSERT for one row, with JSON
// values for list and map columns. Timestamps are normalized to
// UTC; empty ones are left to the column default.
func insertStatement(
	d dialect, table string, row Row,
) (string, []any, error) {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := checkColumns(table, cols...); err != nil {
		return "", nil, err
	}
	b := &builder{d: d}
	quoted := make([]string, 0, len(cols))
	ph := make([]string, 0, len(cols))
	for _, c := range cols {
		v := row[c]
		switch v.(type) {
		case []any, map[string]any:
			v = row.JSON(c)
		}
		if timeColumns[c] {
			var err error
			if v, err = normalizeTime(table, c, v); err != nil {
				return "", nil, err
			}
			if v == nil {
				continue
			}
		}
		quoted = append(quoted, quoteIdent(c))
		ph = append(ph, b.arg(v))
	}
	return "INSERT INTO " + quoteIdent(table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ")", b.args, nil
}

// chunked calls fn for each slice of at most maxSQLVars ids.
func chunked(ids []string, fn func(chunk []string) error) error {
	for i := 0; i < len(ids); i += maxSQLVars {
		end := min(i+maxSQLVars, len(ids))
		if err := fn(ids[i:end]); err != nil {
			return err
		}
	}
	return nil
}
