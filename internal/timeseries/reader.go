package timeseries

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/database"
)

var queriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "timeseries_queries_total",
		Help: "Total number of time-series queries executed, by access pattern",
	},
	[]string{"pattern"},
)

func init() {
	prometheus.MustRegister(queriesTotal)
}

// Reader resolves the four time-series access patterns against a
// Querier. Every operation returns an empty slice and a nil error
// when the backing store is unconfigured.
type Reader struct {
	log logrus.FieldLogger
	db  database.Querier
}

// NewReader creates a reader over the given querier.
func NewReader(log logrus.FieldLogger, db database.Querier) *Reader {
	return &Reader{
		log: log.WithField("component", "timeseries"),
		db:  db,
	}
}

// PointsBetween returns raw samples with timestamps in [start, end].
func (r *Reader) PointsBetween(ctx context.Context, b Binding, start, end time.Time) ([]Point, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	queriesTotal.WithLabelValues("points_between").Inc()

	return r.queryPoints(ctx, buildPointsBetween(b, start, end))
}

// Latest returns the count most recent samples, strictly descending
// by timestamp. A count below one is treated as one.
func (r *Reader) Latest(ctx context.Context, b Binding, count int) ([]Point, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if count < 1 {
		count = 1
	}

	queriesTotal.WithLabelValues("latest").Inc()

	return r.queryPoints(ctx, buildLatest(b, count))
}

// LatestBetween returns the count most recent samples within
// [start, end], descending by timestamp.
func (r *Reader) LatestBetween(ctx context.Context, b Binding, start, end time.Time, count int) ([]Point, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if count < 1 {
		count = 1
	}

	queriesTotal.WithLabelValues("latest_between").Inc()

	return r.queryPoints(ctx, buildLatestBetween(b, start, end, count))
}

// MinMax returns two synthetic points: the minimum of the value
// column stamped at start and the maximum stamped at end. Both values
// are nil when the range holds no rows.
func (r *Reader) MinMax(ctx context.Context, b Binding, start, end time.Time) ([]Point, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	queriesTotal.WithLabelValues("minmax").Inc()

	st := buildMinMax(b, start, end)

	rows, err := r.db.Query(ctx, st.sql, st.args...)
	if errors.Is(err, database.ErrUnconfigured) {
		return []Point{}, nil
	}

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var minValue, maxValue *float64

	if rows.Next() {
		if err := rows.Scan(&minValue, &maxValue); err != nil {
			return nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return []Point{
		{Timestamp: start.UTC().UnixMilli(), Value: minValue},
		{Timestamp: end.UTC().UnixMilli(), Value: maxValue},
	}, nil
}

func (r *Reader) queryPoints(ctx context.Context, st statement) ([]Point, error) {
	rows, err := r.db.Query(ctx, st.sql, st.args...)
	if errors.Is(err, database.ErrUnconfigured) {
		return []Point{}, nil
	}

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	points := make([]Point, 0)

	for rows.Next() {
		var (
			ts    any
			value *float64
		)

		if err := rows.Scan(&ts, &value); err != nil {
			return nil, err
		}

		points = append(points, Point{
			Timestamp: normalizeTimestamp(ts),
			Value:     value,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

// normalizeTimestamp converts whatever the driver produced for the
// timestamp column into milliseconds since epoch in UTC, so output is
// independent of the server's locale and the column's type.
func normalizeTimestamp(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().UnixMilli()
	case int64:
		return t
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
