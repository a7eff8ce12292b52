package timeseries

import "fmt"

// Binding identifies one logical time series: a table, its timestamp
// and value columns, and optional column-equality filters. A Binding
// is supplied once per query or per session and never mutated.
type Binding struct {
	Table           string
	TimestampColumn string
	ValueColumn     string
	Filters         map[string]string
}

// Validate checks that the identifier fields are non-empty. It does
// not check that the table or columns exist; that answer belongs to
// the database.
func (b Binding) Validate() error {
	if b.Table == "" {
		return fmt.Errorf("table name is required")
	}

	if b.TimestampColumn == "" {
		return fmt.Errorf("timestamp column is required")
	}

	if b.ValueColumn == "" {
		return fmt.Errorf("value column is required")
	}

	for column := range b.Filters {
		if column == "" {
			return fmt.Errorf("filter column name is required")
		}
	}

	return nil
}

// Point is a single telemetry sample. Timestamp is milliseconds since
// epoch in UTC, independent of the driver's timezone handling. Value
// is nil when the underlying column is null: "no sample", never zero.
type Point struct {
	Timestamp int64    `json:"timestamp"`
	Value     *float64 `json:"value"`
}
