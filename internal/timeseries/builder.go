package timeseries

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// statement is a parameterized read query plus its positional
// arguments. Table and column names are embedded as quoted
// identifiers; everything user-valued travels as a bound parameter.
type statement struct {
	sql  string
	args []any
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// filterClause composes the equality filters into "col = $n AND ..."
// with parameter numbering starting at next. Filter columns are
// sorted so the generated SQL is deterministic.
func filterClause(b Binding, next int) (string, []any) {
	if len(b.Filters) == 0 {
		return "", nil
	}

	columns := make([]string, 0, len(b.Filters))
	for column := range b.Filters {
		columns = append(columns, column)
	}

	sort.Strings(columns)

	var (
		clauses = make([]string, 0, len(columns))
		args    = make([]any, 0, len(columns))
	)

	for _, column := range columns {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", ident(column), next))
		args = append(args, b.Filters[column])
		next++
	}

	return strings.Join(clauses, " AND "), args
}

func selectClause(b Binding) string {
	return fmt.Sprintf(
		`SELECT %s AS "timestamp", %s AS "value" FROM %s`,
		ident(b.TimestampColumn), ident(b.ValueColumn), ident(b.Table),
	)
}

// buildPointsBetween selects rows whose timestamp falls in
// [start, end]. No ordering beyond the database's natural scan order.
// A reversed range is passed through unvalidated.
func buildPointsBetween(b Binding, start, end time.Time) statement {
	sql := selectClause(b) + fmt.Sprintf(
		" WHERE %s >= $1 AND %s <= $2", ident(b.TimestampColumn), ident(b.TimestampColumn),
	)
	args := []any{start, end}

	if filters, filterArgs := filterClause(b, 3); filters != "" {
		sql += " AND " + filters
		args = append(args, filterArgs...)
	}

	return statement{sql: sql, args: args}
}

// buildLatest selects the count most recent rows, descending by
// timestamp.
func buildLatest(b Binding, count int) statement {
	sql := selectClause(b)

	filters, args := filterClause(b, 1)
	if filters != "" {
		sql += " WHERE " + filters
	}

	sql += fmt.Sprintf(
		" ORDER BY %s DESC LIMIT $%d", ident(b.TimestampColumn), len(args)+1,
	)
	args = append(args, count)

	return statement{sql: sql, args: args}
}

// buildLatestBetween is the union of the two above: time-bounded,
// filtered, descending, limited.
func buildLatestBetween(b Binding, start, end time.Time, count int) statement {
	sql := selectClause(b) + fmt.Sprintf(
		" WHERE %s >= $1 AND %s <= $2", ident(b.TimestampColumn), ident(b.TimestampColumn),
	)
	args := []any{start, end}

	if filters, filterArgs := filterClause(b, 3); filters != "" {
		sql += " AND " + filters
		args = append(args, filterArgs...)
	}

	sql += fmt.Sprintf(
		" ORDER BY %s DESC LIMIT $%d", ident(b.TimestampColumn), len(args)+1,
	)
	args = append(args, count)

	return statement{sql: sql, args: args}
}

// buildMinMax aggregates MIN and MAX of the value column over the
// bounded, filtered row set. An empty range yields null for both.
func buildMinMax(b Binding, start, end time.Time) statement {
	sql := fmt.Sprintf(
		`SELECT MIN(%s) AS "min", MAX(%s) AS "max" FROM %s WHERE %s >= $1 AND %s <= $2`,
		ident(b.ValueColumn), ident(b.ValueColumn), ident(b.Table),
		ident(b.TimestampColumn), ident(b.TimestampColumn),
	)
	args := []any{start, end}

	if filters, filterArgs := filterClause(b, 3); filters != "" {
		sql += " AND " + filters
		args = append(args, filterArgs...)
	}

	return statement{sql: sql, args: args}
}
