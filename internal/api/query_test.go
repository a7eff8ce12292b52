package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgtelemetry/backend/internal/querycache"
	"github.com/pgtelemetry/backend/internal/testutil"
	"github.com/pgtelemetry/backend/internal/timeseries"
)

type readerCall struct {
	pattern string
	binding timeseries.Binding
	start   time.Time
	end     time.Time
	count   int
}

type fakeQueryReader struct {
	mu     sync.Mutex
	calls  []readerCall
	points []timeseries.Point
	err    error
}

func (r *fakeQueryReader) record(c readerCall) ([]timeseries.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, c)

	return r.points, r.err
}

func (r *fakeQueryReader) PointsBetween(_ context.Context, b timeseries.Binding, start, end time.Time) ([]timeseries.Point, error) {
	return r.record(readerCall{pattern: "between", binding: b, start: start, end: end})
}

func (r *fakeQueryReader) Latest(_ context.Context, b timeseries.Binding, count int) ([]timeseries.Point, error) {
	return r.record(readerCall{pattern: "latest", binding: b, count: count})
}

func (r *fakeQueryReader) LatestBetween(_ context.Context, b timeseries.Binding, start, end time.Time, count int) ([]timeseries.Point, error) {
	return r.record(readerCall{pattern: "latest_between", binding: b, start: start, end: end, count: count})
}

func (r *fakeQueryReader) MinMax(_ context.Context, b timeseries.Binding, start, end time.Time) ([]timeseries.Point, error) {
	return r.record(readerCall{pattern: "minmax", binding: b, start: start, end: end})
}

// mapCache is an in-memory Cache for exercising the cached paths.
type mapCache struct {
	entries map[string][]timeseries.Point
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]timeseries.Point)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]timeseries.Point, bool) {
	points, ok := c.entries[key]

	return points, ok
}

func (c *mapCache) Set(_ context.Context, key string, points []timeseries.Point) {
	c.entries[key] = points
}

func value(f float64) *float64 { return &f }

func queryServer(reader Reader, cache querycache.Cache) *httptest.Server {
	handler := NewQueryHandler(reader, cache, testutil.NewTestLogger())

	mux := http.NewServeMux()
	mux.Handle("GET /query/{table}/{timeColumn}/{valueColumn}", handler)
	mux.Handle("POST /query/{table}/{timeColumn}/{valueColumn}", handler)

	return httptest.NewServer(mux)
}

func decodePoints(t *testing.T, resp *http.Response) []timeseries.Point {
	t.Helper()

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var points []timeseries.Point
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&points))

	return points
}

func postQuery(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()

	resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)

	return resp
}

func TestQuery_GetDefaultsToLatestOne(t *testing.T) {
	reader := &fakeQueryReader{points: []timeseries.Point{
		{Timestamp: 1709251200000, Value: value(21.5)},
	}}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/query/sensor/timestamp/value")
	require.NoError(t, err)

	points := decodePoints(t, resp)
	require.Len(t, points, 1)
	assert.Equal(t, int64(1709251200000), points[0].Timestamp)

	require.Len(t, reader.calls, 1)
	assert.Equal(t, "latest", reader.calls[0].pattern)
	assert.Equal(t, 1, reader.calls[0].count)
	assert.Equal(t, "sensor", reader.calls[0].binding.Table)
	assert.Equal(t, "timestamp", reader.calls[0].binding.TimestampColumn)
	assert.Equal(t, "value", reader.calls[0].binding.ValueColumn)
}

func TestQuery_FiltersFromQueryString(t *testing.T) {
	reader := &fakeQueryReader{}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/query/sensor/timestamp/value?attribute=test&site=lab")
	require.NoError(t, err)

	decodePoints(t, resp)

	require.Len(t, reader.calls, 1)
	assert.Equal(t, map[string]string{
		"attribute": "test",
		"site":      "lab",
	}, reader.calls[0].binding.Filters)
}

func TestQuery_PostLatestWithSize(t *testing.T) {
	reader := &fakeQueryReader{}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value", `{"type":"latest","size":20}`)
	decodePoints(t, resp)

	require.Len(t, reader.calls, 1)
	assert.Equal(t, "latest", reader.calls[0].pattern)
	assert.Equal(t, 20, reader.calls[0].count)
}

func TestQuery_PostRangedLatest(t *testing.T) {
	reader := &fakeQueryReader{}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value",
		`{"type":"latest","start":1709251200000,"end":1709337600000,"size":5}`)
	decodePoints(t, resp)

	require.Len(t, reader.calls, 1)
	call := reader.calls[0]
	assert.Equal(t, "latest_between", call.pattern)
	assert.Equal(t, int64(1709251200000), call.start.UnixMilli())
	assert.Equal(t, int64(1709337600000), call.end.UnixMilli())
	assert.Equal(t, 5, call.count)
}

func TestQuery_PostMinMax(t *testing.T) {
	reader := &fakeQueryReader{points: []timeseries.Point{
		{Timestamp: 1709251200000, Value: value(10)},
		{Timestamp: 1709337600000, Value: value(30)},
	}}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value",
		`{"type":"minmax","start":1709251200000,"end":1709337600000}`)

	points := decodePoints(t, resp)
	require.Len(t, points, 2)

	require.Len(t, reader.calls, 1)
	assert.Equal(t, "minmax", reader.calls[0].pattern)
}

func TestQuery_PostBetween(t *testing.T) {
	reader := &fakeQueryReader{}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value",
		`{"type":"between","start":1709251200000,"end":1709337600000}`)
	decodePoints(t, resp)

	require.Len(t, reader.calls, 1)
	assert.Equal(t, "between", reader.calls[0].pattern)
}

func TestQuery_RangedTypesRequireBothBounds(t *testing.T) {
	for _, queryType := range []string{"minmax", "between"} {
		t.Run(queryType, func(t *testing.T) {
			reader := &fakeQueryReader{}

			srv := queryServer(reader, querycache.Disabled())
			defer srv.Close()

			resp := postQuery(t, srv, "/query/sensor/timestamp/value",
				`{"type":"`+queryType+`","start":1709251200000}`)

			points := decodePoints(t, resp)
			assert.Empty(t, points)
			assert.Empty(t, reader.calls, "incomplete range must not reach the reader")
		})
	}
}

func TestQuery_UnknownTypeYieldsEmptyArray(t *testing.T) {
	reader := &fakeQueryReader{}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value", `{"type":"percentile"}`)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)

	// The empty result is a JSON array, never null.
	assert.Equal(t, "[]", strings.TrimSpace(string(body[:n])))
	assert.Empty(t, reader.calls)
}

func TestQuery_GarbageBodyDefaultsToLatestOne(t *testing.T) {
	reader := &fakeQueryReader{}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value", `{broken`)
	decodePoints(t, resp)

	require.Len(t, reader.calls, 1)
	assert.Equal(t, "latest", reader.calls[0].pattern)
	assert.Equal(t, 1, reader.calls[0].count)
}

func TestQuery_ReaderErrorYieldsEmptyArray(t *testing.T) {
	reader := &fakeQueryReader{err: errors.New("relation does not exist")}

	srv := queryServer(reader, querycache.Disabled())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/query/sensor/timestamp/value")
	require.NoError(t, err)

	points := decodePoints(t, resp)
	assert.Empty(t, points)
}

func TestQuery_MinMaxServedFromCache(t *testing.T) {
	reader := &fakeQueryReader{points: []timeseries.Point{
		{Timestamp: 1709251200000, Value: value(10)},
		{Timestamp: 1709337600000, Value: value(30)},
	}}
	cache := newMapCache()

	srv := queryServer(reader, cache)
	defer srv.Close()

	body := `{"type":"minmax","start":1709251200000,"end":1709337600000}`

	resp := postQuery(t, srv, "/query/sensor/timestamp/value", body)
	require.Len(t, decodePoints(t, resp), 2)

	resp = postQuery(t, srv, "/query/sensor/timestamp/value", body)
	require.Len(t, decodePoints(t, resp), 2)

	// The second identical request is answered from the cache.
	assert.Len(t, reader.calls, 1)
	assert.Len(t, cache.entries, 1)
}

func TestQuery_DifferentRangesMissTheCache(t *testing.T) {
	reader := &fakeQueryReader{points: []timeseries.Point{{Timestamp: 1}}}
	cache := newMapCache()

	srv := queryServer(reader, cache)
	defer srv.Close()

	resp := postQuery(t, srv, "/query/sensor/timestamp/value",
		`{"type":"between","start":1,"end":2}`)
	decodePoints(t, resp)

	resp = postQuery(t, srv, "/query/sensor/timestamp/value",
		`{"type":"between","start":1,"end":3}`)
	decodePoints(t, resp)

	assert.Len(t, reader.calls, 2)
	assert.Len(t, cache.entries, 2)
}
