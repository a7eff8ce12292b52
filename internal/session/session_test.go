package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgtelemetry/backend/internal/database"
	"github.com/pgtelemetry/backend/internal/testutil"
	"github.com/pgtelemetry/backend/internal/timeseries"
)

type fakeConn struct {
	notes chan database.Notification

	mu      sync.Mutex
	channel string
	closed  bool
}

func (c *fakeConn) Listen(_ context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channel = channel

	return nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (database.Notification, error) {
	select {
	case <-ctx.Done():
		return database.Notification{}, ctx.Err()
	case n := <-c.notes:
		return n, nil
	}
}

func (c *fakeConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *fakeConn) listenedChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel
}

type fakeConnector struct {
	conn *fakeConn
}

func (f *fakeConnector) Dedicated(_ context.Context) (database.NotifyConn, error) {
	return f.conn, nil
}

type fakeReader struct {
	mu     sync.Mutex
	points []timeseries.Point
	err    error
	calls  int
}

func (r *fakeReader) Latest(_ context.Context, _ timeseries.Binding, _ int) ([]timeseries.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++

	return r.points, r.err
}

type fakeTransport struct {
	frames chan interface{}
	err    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan interface{}, 8)}
}

func (t *fakeTransport) WriteJSON(v interface{}) error {
	t.frames <- v

	return t.err
}

func testBinding() timeseries.Binding {
	return timeseries.Binding{
		Table:           "sensor",
		TimestampColumn: "timestamp",
		ValueColumn:     "value",
	}
}

func value(f float64) *float64 { return &f }

func openSession(t *testing.T, conn *fakeConn, reader Reader, transport Transport) *Session {
	t.Helper()

	s := New(testutil.NewTestLogger(), &fakeConnector{conn: conn}, reader, testBinding(), transport)
	s.Start(context.Background())
	t.Cleanup(s.Close)

	return s
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "telemetry.sensor", ChannelName("sensor"))
}

func TestSession_SubscribesToTableChannel(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}
	openSession(t, conn, &fakeReader{}, newFakeTransport())

	require.Eventually(t, func() bool {
		return conn.listenedChannel() == "telemetry.sensor"
	}, 5*time.Second, time.Millisecond)
}

func TestSession_NotificationPushesLatest(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}
	reader := &fakeReader{points: []timeseries.Point{
		{Timestamp: 1709251200000, Value: value(21.5)},
	}}
	transport := newFakeTransport()

	openSession(t, conn, reader, transport)

	conn.notes <- database.Notification{Channel: "telemetry.sensor", Payload: "sensor"}

	select {
	case frame := <-transport.frames:
		point, ok := frame.(timeseries.Point)
		require.True(t, ok)
		assert.Equal(t, int64(1709251200000), point.Timestamp)
		require.NotNil(t, point.Value)
		assert.InDelta(t, 21.5, *point.Value, 0.0001)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame pushed")
	}
}

func TestSession_RequestFramePushesLatest(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}
	reader := &fakeReader{points: []timeseries.Point{
		{Timestamp: 1, Value: value(1)},
	}}
	transport := newFakeTransport()

	s := openSession(t, conn, reader, transport)

	s.HandleMessage([]byte(`{"type":"request"}`))

	select {
	case <-transport.frames:
	case <-time.After(5 * time.Second):
		t.Fatal("no frame pushed")
	}
}

func TestSession_IgnoresUnknownAndMalformedFrames(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}
	transport := newFakeTransport()

	s := openSession(t, conn, &fakeReader{}, transport)

	s.HandleMessage([]byte(`{"type":"unsubscribe"}`))
	s.HandleMessage([]byte(`not json`))

	select {
	case <-transport.frames:
		t.Fatal("unexpected frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_NoPushWhenTableEmpty(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}
	transport := newFakeTransport()

	s := openSession(t, conn, &fakeReader{}, transport)

	s.HandleMessage([]byte(`{"type":"request"}`))

	select {
	case <-transport.frames:
		t.Fatal("pushed a frame for an empty table")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_PushErrorIsNotFatal(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}
	reader := &fakeReader{points: []timeseries.Point{{Timestamp: 1, Value: value(1)}}}

	transport := newFakeTransport()
	transport.err = errors.New("broken pipe")

	s := openSession(t, conn, reader, transport)

	s.HandleMessage([]byte(`{"type":"request"}`))
	<-transport.frames

	// The session keeps serving after a failed write.
	s.HandleMessage([]byte(`{"type":"request"}`))

	select {
	case <-transport.frames:
	case <-time.After(5 * time.Second):
		t.Fatal("session stopped serving after a push error")
	}
}

func TestSession_CloseReleasesListenerConnection(t *testing.T) {
	conn := &fakeConn{notes: make(chan database.Notification)}

	s := New(testutil.NewTestLogger(), &fakeConnector{conn: conn}, &fakeReader{}, testBinding(), newFakeTransport())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return conn.listenedChannel() == "telemetry.sensor"
	}, 5*time.Second, time.Millisecond)

	s.Close()
	s.Close()

	assert.True(t, conn.isClosed())
}
