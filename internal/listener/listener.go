package listener

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/database"
)

const (
	// Fixed retry budget per disconnect episode. Deliberately not
	// configurable per call: a bounded, predictable reconnect cadence
	// beats a tunable retry storm.
	defaultMaxAttempts = 10
	defaultRetryDelay  = 5 * time.Second
)

var reconnectAttempts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "listener_reconnect_attempts_total",
		Help: "Total number of listener reconnection attempts",
	},
)

func init() {
	prometheus.MustRegister(reconnectAttempts)
}

// Connector opens dedicated notification connections. *database.Pool
// satisfies it.
type Connector interface {
	Dedicated(ctx context.Context) (database.NotifyConn, error)
}

// Handler receives events from a running listener. Notify is invoked
// with every notification, verbatim; Disconnect is invoked exactly
// once when the retry budget is exhausted.
type Handler struct {
	Notify     func(n database.Notification)
	Disconnect func(err error)
}

// Listener subscribes to one database notification channel over a
// dedicated connection and keeps the subscription alive across
// transient connection loss. Channel subscriptions are tied to a
// single physical connection, so a dropped connection silently loses
// the subscription; the listener re-establishes it from scratch, with
// a fixed attempt budget per episode.
type Listener struct {
	log       logrus.FieldLogger
	connector Connector
	channel   string
	handler   Handler

	maxAttempts int
	retryDelay  time.Duration

	mu     sync.Mutex
	state  State
	conn   database.NotifyConn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a listener bound to one channel name. It does not
// connect until Listen is called.
func New(log logrus.FieldLogger, connector Connector, channel string, handler Handler) *Listener {
	return &Listener{
		log:         log.WithField("component", "listener").WithField("channel", channel),
		connector:   connector,
		channel:     channel,
		handler:     handler,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// State returns the current state of the machine.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Listen starts the subscription in the background. Calling Listen on
// anything but an Idle listener is a no-op.
func (l *Listener) Listen(ctx context.Context) {
	l.mu.Lock()

	if l.state != StateIdle {
		l.mu.Unlock()

		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = transition(l.state, eventListen, l.maxAttempts)
	l.mu.Unlock()

	go l.run(runCtx)
}

// Stop tears the listener down and releases the dedicated connection
// if one is held, regardless of the current state. It is idempotent
// and returns once the background loop has exited.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	conn := l.conn
	done := l.done
	l.cancel = nil
	l.conn = nil
	l.state = transition(l.state, eventStop, 0)
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
		defer closeCancel()

		if err := conn.Close(closeCtx); err != nil {
			l.log.WithError(err).Debug("Error closing dedicated connection")
		}
	}

	if done != nil {
		<-done
	}
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	attemptsLeft := l.maxAttempts
	delayed := false

	for {
		if delayed && !l.wait(ctx) {
			return
		}

		conn, err := l.connect(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				l.release(conn)
			}

			return
		}

		if err != nil {
			attemptsLeft--
			l.apply(eventConnectFailed, attemptsLeft)

			if attemptsLeft <= 0 {
				l.log.WithError(err).Error("Listener retry budget exhausted")

				if l.handler.Disconnect != nil {
					l.handler.Disconnect(err)
				}

				return
			}

			l.log.WithError(err).WithField("attempts_left", attemptsLeft).Warn("Listener connect failed, retrying")
			reconnectAttempts.Inc()

			delayed = true

			continue
		}

		l.setConn(conn)
		l.apply(eventConnectOK, attemptsLeft)
		l.log.Info("Listening for notifications")

		// A successful connection opens a fresh budget for the next
		// disconnect episode.
		attemptsLeft = l.maxAttempts

		if !l.pump(ctx, conn) {
			return
		}

		l.apply(eventConnectionLost, attemptsLeft)
		reconnectAttempts.Inc()

		delayed = true
	}
}

// connect acquires a dedicated connection and issues the channel
// subscribe statement. Either step failing counts as one failed
// attempt.
func (l *Listener) connect(ctx context.Context) (database.NotifyConn, error) {
	l.apply(eventRetry, l.maxAttempts)

	conn, err := l.connector.Dedicated(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.Listen(ctx, l.channel); err != nil {
		l.release(conn)

		return nil, err
	}

	return conn, nil
}

// pump forwards notifications until the connection fails or the
// listener is stopped. It reports true when the connection was lost
// and reconnection should proceed.
func (l *Listener) pump(ctx context.Context, conn database.NotifyConn) bool {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			lost := ctx.Err() == nil

			if held := l.takeConn(); held != nil {
				l.release(held)
			}

			if lost {
				l.log.WithError(err).Warn("Notification connection lost")
			}

			return lost
		}

		if l.handler.Notify != nil {
			l.handler.Notify(n)
		}
	}
}

func (l *Listener) wait(ctx context.Context) bool {
	timer := time.NewTimer(l.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Listener) apply(ev event, attemptsLeft int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = transition(l.state, ev, attemptsLeft)
}

func (l *Listener) setConn(conn database.NotifyConn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.conn = conn
}

func (l *Listener) takeConn() database.NotifyConn {
	l.mu.Lock()
	defer l.mu.Unlock()

	conn := l.conn
	l.conn = nil

	return conn
}

func (l *Listener) release(conn database.NotifyConn) {
	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()

	if err := conn.Close(closeCtx); err != nil {
		l.log.WithError(err).Debug("Error closing dedicated connection")
	}
}
