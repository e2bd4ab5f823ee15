package storage

import (
	"fmt"
	"strings"
	"time"
)

// whereClause accumulates SQL conditions and their arguments.
type whereClause struct {
	conds       []string
	args        []any
	placeholder func(n int) string
}

func newDollarWhere() *whereClause {
	return &whereClause{placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}
}

func newQuestionWhere() *whereClause {
	return &whereClause{placeholder: func(int) string { return "?" }}
}

// add appends a condition; each %s in cond is replaced by a placeholder.
func (w *whereClause) add(cond string, args ...any) {
	ph := make([]any, len(args))
	for i := range args {
		ph[i] = w.placeholder(len(w.args) + i + 1)
	}
	w.conds = append(w.conds, fmt.Sprintf(cond, ph...))
	w.args = append(w.args, args...)
}

// timeRange adds [From, To) bounds on col; format converts the bound to a
// driver argument.
func (w *whereClause) timeRange(col string, f Filter, format func(time.Time) any) {
	if !f.From.IsZero() {
		w.add(col+" >= %s", format(f.From))
	}
	if !f.To.IsZero() {
		w.add(col+" < %s", format(f.To))
	}
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func passTime(t time.Time) any { return t.UTC() }
