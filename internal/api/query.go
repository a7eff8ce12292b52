package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/querycache"
	"github.com/pgtelemetry/backend/internal/timeseries"
)

// Verify interface compliance at compile time.
var _ http.Handler = (*QueryHandler)(nil)

// Reader resolves the time-series access patterns.
type Reader interface {
	PointsBetween(ctx context.Context, b timeseries.Binding, start, end time.Time) ([]timeseries.Point, error)
	Latest(ctx context.Context, b timeseries.Binding, count int) ([]timeseries.Point, error)
	LatestBetween(ctx context.Context, b timeseries.Binding, start, end time.Time, count int) ([]timeseries.Point, error)
	MinMax(ctx context.Context, b timeseries.Binding, start, end time.Time) ([]timeseries.Point, error)
}

// queryRequest is the body of POST /query requests. Start and end are
// milliseconds since epoch.
type queryRequest struct {
	Type  string `json:"type"`
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
	Size  int    `json:"size"`
}

// QueryHandler handles GET and POST
// /query/{table}/{timeColumn}/{valueColumn} requests. The policy is
// fail-soft throughout: an unconfigured pool, an unknown request
// type, missing fields or a failed query all produce an empty JSON
// array with status 200, never a 5xx. The UI stays usable through
// partial backend issues.
type QueryHandler struct {
	reader Reader
	cache  querycache.Cache
	logger logrus.FieldLogger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(reader Reader, cache querycache.Cache, logger logrus.FieldLogger) *QueryHandler {
	return &QueryHandler{
		reader: reader,
		cache:  cache,
		logger: logger.WithField("handler", "query"),
	}
}

// ServeHTTP resolves one ad-hoc query.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	binding := bindingFromRequest(r)

	var req *queryRequest

	if r.Method == http.MethodPost {
		var body queryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			req = &body
		} else {
			// No usable body defaults to latest(1), same as GET.
			h.logger.WithError(err).Debug("Ignoring unreadable request body")
		}
	}

	points := h.resolve(r.Context(), binding, req)
	if points == nil {
		points = make([]timeseries.Point, 0)
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(points); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *QueryHandler) resolve(
	ctx context.Context,
	binding timeseries.Binding,
	req *queryRequest,
) []timeseries.Point {
	if req == nil {
		return h.run(ctx, binding, func() ([]timeseries.Point, error) {
			return h.reader.Latest(ctx, binding, 1)
		})
	}

	size := req.Size
	if size < 1 {
		size = 1
	}

	ranged := req.Start != nil && req.End != nil

	var start, end time.Time
	if ranged {
		start = time.UnixMilli(*req.Start).UTC()
		end = time.UnixMilli(*req.End).UTC()
	}

	switch req.Type {
	case "latest":
		if ranged {
			return h.run(ctx, binding, func() ([]timeseries.Point, error) {
				return h.reader.LatestBetween(ctx, binding, start, end, size)
			})
		}

		return h.run(ctx, binding, func() ([]timeseries.Point, error) {
			return h.reader.Latest(ctx, binding, size)
		})
	case "minmax":
		if !ranged {
			return nil
		}

		return h.cached(ctx, binding, req, func() ([]timeseries.Point, error) {
			return h.reader.MinMax(ctx, binding, start, end)
		})
	case "between":
		if !ranged {
			return nil
		}

		return h.cached(ctx, binding, req, func() ([]timeseries.Point, error) {
			return h.reader.PointsBetween(ctx, binding, start, end)
		})
	default:
		return nil
	}
}

// run executes a query, collapsing failures into an empty result.
func (h *QueryHandler) run(
	_ context.Context,
	binding timeseries.Binding,
	query func() ([]timeseries.Point, error),
) []timeseries.Point {
	points, err := query()
	if err != nil {
		h.logger.WithError(err).WithField("table", binding.Table).Warn("Query failed")

		return nil
	}

	return points
}

// cached is run with a short-TTL response cache in front, used for
// the range-bounded patterns whose answers do not change between
// bursts of identical requests.
func (h *QueryHandler) cached(
	ctx context.Context,
	binding timeseries.Binding,
	req *queryRequest,
	query func() ([]timeseries.Point, error),
) []timeseries.Point {
	key := querycache.Key(
		binding,
		req.Type,
		strconv.FormatInt(*req.Start, 10),
		strconv.FormatInt(*req.End, 10),
		strconv.Itoa(req.Size),
	)

	if points, ok := h.cache.Get(ctx, key); ok {
		return points
	}

	points := h.run(ctx, binding, query)
	if points != nil {
		h.cache.Set(ctx, key, points)
	}

	return points
}
