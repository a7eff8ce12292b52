package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/database"
	"github.com/pgtelemetry/backend/internal/session"
)

// Verify interface compliance at compile time.
var _ http.Handler = (*ListenHandler)(nil)

var websocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SubscribeBackend is the slice of the connection pool the listen
// endpoint needs. *database.Pool satisfies it.
type SubscribeBackend interface {
	Configured() bool
	Dedicated(ctx context.Context) (database.NotifyConn, error)
}

// ListenHandler handles GET /listen/{table}/{timeColumn}/{valueColumn}
// websocket subscriptions. Each accepted connection gets its own
// Session, and through it its own Listener and dedicated database
// connection; two tabs subscribed to the same table are two fully
// independent sessions.
type ListenHandler struct {
	backend SubscribeBackend
	reader  session.Reader
	logger  logrus.FieldLogger
}

// NewListenHandler creates a new listen handler.
func NewListenHandler(backend SubscribeBackend, reader session.Reader, logger logrus.FieldLogger) *ListenHandler {
	return &ListenHandler{
		backend: backend,
		reader:  reader,
		logger:  logger.WithField("handler", "listen"),
	}
}

// ServeHTTP upgrades the connection and serves the subscription until
// either side closes it.
func (h *ListenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade websocket")

		return
	}

	// Without a backing store there is nothing to subscribe to.
	if !h.backend.Configured() {
		_ = conn.Close()

		return
	}

	binding := bindingFromRequest(r)

	sess := session.New(h.logger, h.backend, h.reader, binding, conn)

	// The session owns the listener for the whole connection
	// lifetime; Close must run before the transport handle is
	// discarded so the dedicated connection is released.
	defer func() {
		sess.Close()

		_ = conn.Close()
	}()

	sess.Start(r.Context())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		sess.HandleMessage(data)
	}
}
