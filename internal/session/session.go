package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/database"
	"github.com/pgtelemetry/backend/internal/listener"
	"github.com/pgtelemetry/backend/internal/timeseries"
)

// channelPrefix namespaces the notification channels this service
// subscribes to, one channel per table.
const channelPrefix = "telemetry."

const queryTimeout = 10 * time.Second

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscription_sessions_active",
			Help: "Number of open subscription sessions",
		},
	)

	notificationsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_notifications_received_total",
			Help: "Total number of database notifications received across sessions",
		},
	)

	pushFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_push_frames_total",
			Help: "Total number of frames pushed to subscribers",
		},
	)

	pushErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_push_errors_total",
			Help: "Total number of failed pushes to subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsActive)
	prometheus.MustRegister(notificationsReceived)
	prometheus.MustRegister(pushFramesTotal)
	prometheus.MustRegister(pushErrorsTotal)
}

// ChannelName derives the notification channel for a table.
func ChannelName(table string) string {
	return channelPrefix + table
}

// Transport is the write side of one client's push channel.
// *websocket.Conn satisfies it.
type Transport interface {
	WriteJSON(v interface{}) error
}

// Reader resolves latest-point queries for the session's binding.
type Reader interface {
	Latest(ctx context.Context, b timeseries.Binding, count int) ([]timeseries.Point, error)
}

// inbound is the envelope of a client request frame.
type inbound struct {
	Type string `json:"type"`
}

// Session multiplexes one client's live subscription: it owns exactly
// one Listener bound to the table's notification channel and one
// binding, and bridges notifications and on-demand request frames to
// push frames on the transport. The Session is the only caller of the
// Listener's Stop; the Listener never outlives it.
type Session struct {
	id        string
	log       logrus.FieldLogger
	binding   timeseries.Binding
	reader    Reader
	listener  *listener.Listener
	transport Transport

	handlers map[string]func()

	ctx    context.Context
	cancel context.CancelFunc

	// Overlapping pushes come from concurrent latest-queries; the
	// transport does not support concurrent writers.
	writeMu sync.Mutex

	closeOnce sync.Once
}

// New creates a session for one binding and transport. The session
// does not listen until Start is called.
func New(
	log logrus.FieldLogger,
	connector listener.Connector,
	reader Reader,
	binding timeseries.Binding,
	transport Transport,
) *Session {
	s := &Session{
		id:        uuid.NewString(),
		binding:   binding,
		reader:    reader,
		transport: transport,
	}

	s.log = log.WithFields(logrus.Fields{
		"component": "session",
		"session":   s.id,
		"table":     binding.Table,
	})

	s.listener = listener.New(s.log, connector, ChannelName(binding.Table), listener.Handler{
		Notify:     s.onNotification,
		Disconnect: s.onDisconnect,
	})

	s.handlers = map[string]func(){
		"request": s.pushLatest,
	}

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Start begins listening for change notifications.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.listener.Listen(s.ctx)
	sessionsActive.Inc()

	s.log.Info("Subscription session opened")
}

// Close tears the session down, stopping the owned listener
// synchronously so its dedicated connection is released before the
// session is discarded. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		s.listener.Stop()
		sessionsActive.Dec()

		s.log.Info("Subscription session closed")
	})
}

// HandleMessage dispatches one inbound frame from the client. Frames
// whose declared type has no registered handler are silently ignored.
func (s *Session) HandleMessage(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.WithError(err).Debug("Ignoring malformed message")

		return
	}

	handler, ok := s.handlers[msg.Type]
	if !ok {
		s.log.WithField("type", msg.Type).Debug("Ignoring message with unknown type")

		return
	}

	go handler()
}

// onNotification reacts to a database change by re-querying the
// freshest point. Each notification triggers at most one query; a
// burst of notifications may produce overlapping queries whose pushes
// land out of submission order, and subscribers treat frames as
// independent samples.
func (s *Session) onNotification(_ database.Notification) {
	notificationsReceived.Inc()

	go s.pushLatest()
}

func (s *Session) onDisconnect(err error) {
	// The session does not recreate the listener; the client has to
	// re-open the subscription.
	s.log.WithError(err).Error("Notification listener terminally disconnected")
}

func (s *Session) pushLatest() {
	ctx, cancel := context.WithTimeout(s.ctx, queryTimeout)
	defer cancel()

	points, err := s.reader.Latest(ctx, s.binding, 1)
	if err != nil {
		s.log.WithError(err).Warn("Latest-point query failed")

		return
	}

	if len(points) == 0 {
		return
	}

	s.writeMu.Lock()
	err = s.transport.WriteJSON(points[0])
	s.writeMu.Unlock()

	if err != nil {
		// A push failure does not tear the session down; only
		// transport closure does.
		pushErrorsTotal.Inc()
		s.log.WithError(err).Warn("Failed to push frame")

		return
	}

	pushFramesTotal.Inc()
}
