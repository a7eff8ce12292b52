package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Verify interface compliance at compile time.
var _ http.Handler = (*PingHandler)(nil)

// Prober answers database availability probes.
type Prober interface {
	Probe(ctx context.Context) bool
}

// PingHandler handles GET /ping requests with a bare JSON boolean.
type PingHandler struct {
	checker Prober
	logger  logrus.FieldLogger
}

// NewPingHandler creates a new ping handler.
func NewPingHandler(checker Prober, logger logrus.FieldLogger) *PingHandler {
	return &PingHandler{
		checker: checker,
		logger:  logger.WithField("handler", "ping"),
	}
}

// ServeHTTP reports whether the backing store is reachable.
func (h *PingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	available := h.checker.Probe(r.Context())

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(available); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
