package api

import (
	"net/http"

	"github.com/pgtelemetry/backend/internal/timeseries"
)

// bindingFromRequest builds the table binding from the request path
// and query string. Every query parameter is an equality filter on
// the named column; values travel as bound parameters, never as SQL
// text.
func bindingFromRequest(r *http.Request) timeseries.Binding {
	filters := make(map[string]string)

	for column, values := range r.URL.Query() {
		if len(values) > 0 {
			filters[column] = values[0]
		}
	}

	return timeseries.Binding{
		Table:           r.PathValue("table"),
		TimestampColumn: r.PathValue("timeColumn"),
		ValueColumn:     r.PathValue("valueColumn"),
		Filters:         filters,
	}
}
