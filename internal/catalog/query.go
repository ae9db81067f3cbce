package catalog

import (
	"strings"
)

// selectQuery assembles a SELECT from fragments built out of schema handles.
// Caller-supplied values only ever travel through args.
type selectQuery struct {
	columns []string
	from    string
	where   []string
	args    []any
	groupBy []string
	orderBy []string
	limit   int
	offset  int
}

func newSelect(from string, columns ...string) *selectQuery {
	return &selectQuery{from: from, columns: columns}
}

// Where ANDs a condition; its placeholders bind args in order
func (q *selectQuery) Where(cond string, args ...any) *selectQuery {
	q.where = append(q.where, cond)
	q.args = append(q.args, args...)
	return q
}

func (q *selectQuery) GroupBy(exprs ...string) *selectQuery {
	q.groupBy = append(q.groupBy, exprs...)
	return q
}

func (q *selectQuery) OrderBy(exprs ...string) *selectQuery {
	q.orderBy = append(q.orderBy, exprs...)
	return q
}

// Paginate sets LIMIT/OFFSET. A non-positive limit leaves the result unbounded.
func (q *selectQuery) Paginate(limit, offset int) *selectQuery {
	q.limit = limit
	q.offset = offset
	return q
}

// SQL renders the statement and its bound arguments
func (q *selectQuery) SQL() (string, []any) {
	var b strings.Builder
	args := append([]any(nil), q.args...)

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.columns, ",\n\t"))
	b.WriteString("\nFROM ")
	b.WriteString(q.from)
	if len(q.where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(q.where, "\n\tAND "))
	}
	if len(q.groupBy) > 0 {
		b.WriteString("\nGROUP BY ")
		b.WriteString(strings.Join(q.groupBy, ", "))
	}
	if len(q.orderBy) > 0 {
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	if q.limit > 0 {
		b.WriteString("\nLIMIT ? OFFSET ?")
		args = append(args, q.limit, q.offset)
	}
	return b.String(), args
}

// likeContains builds a case-insensitive LIKE pattern matching s anywhere.
// Wildcards in s are escaped with '\'.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// placeholders returns "?, ?, ?" for n values
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
