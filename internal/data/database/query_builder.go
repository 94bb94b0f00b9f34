// Package database builds parameterized list queries with sanitized identifiers.
package database

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is the comparison operator of a Condition.
type ConditionType string

// Supported operators.
const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThanOrEqual ConditionType = ">="
	LessThan           ConditionType = "<"
	Any                ConditionType = "ANY"
	IsTrue             ConditionType = "IS TRUE"
	IsFalse            ConditionType = "IS FALSE"
)

// Condition is one WHERE predicate; conditions are joined with AND.
type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

// WhereCond creates a Condition.
func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

// ListQuery describes a SELECT over one table.
type ListQuery struct {
	Table      string
	Columns    []string
	Conditions []Condition
	OrderBy    string
	Desc       bool
	// Limit and Offset are omitted when <= 0.
	Limit  int
	Offset int
}

// Where appends a condition and returns q for chaining.
func (q *ListQuery) Where(field string, condType ConditionType, value any) *ListQuery {
	q.Conditions = append(q.Conditions, WhereCond(field, condType, value))
	return q
}

func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// Build renders the query and its positional arguments.
func (q *ListQuery) Build() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		cols := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			cols[i] = ident(c)
		}
		b.WriteString(strings.Join(cols, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(ident(q.Table))

	var (
		preds []string
		args  []any
	)
	for _, c := range q.Conditions {
		pred, vals := c.render(len(args) + 1)
		if pred == "" {
			continue
		}
		preds = append(preds, pred)
		args = append(args, vals...)
	}
	if len(preds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
	}

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(ident(q.OrderBy))
		if q.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (c Condition) render(next int) (string, []any) {
	if c.Field == "" {
		return "", nil
	}
	field := ident(c.Field)
	switch c.Type {
	case IsTrue, IsFalse:
		return fmt.Sprintf("%s %s", field, c.Type), nil
	case Any:
		rv := reflect.ValueOf(c.Value)
		if rv.Kind() != reflect.Slice || rv.Len() == 0 {
			return "", nil
		}
		holders := make([]string, rv.Len())
		vals := make([]any, rv.Len())
		for i := range rv.Len() {
			holders[i] = fmt.Sprintf("$%d", next+i)
			vals[i] = rv.Index(i).Interface()
		}
		return fmt.Sprintf("%s = ANY (ARRAY[%s])", field, strings.Join(holders, ", ")), vals
	case Equal, NotEqual, GreaterThanOrEqual, LessThan:
		return fmt.Sprintf("%s %s $%d", field, c.Type, next), []any{c.Value}
	default:
		return "", nil
	}
}
