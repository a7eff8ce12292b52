package health

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const probeTimeout = 5 * time.Second

// Pinger is the slice of the connection pool the checker needs.
type Pinger interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// Checker reports database availability.
type Checker struct {
	log  logrus.FieldLogger
	pool Pinger
}

// NewChecker creates a health checker over the given pool.
func NewChecker(log logrus.FieldLogger, pool Pinger) *Checker {
	return &Checker{
		log:  log.WithField("component", "health"),
		pool: pool,
	}
}

// Probe returns true iff the pool is configured and a trivial round
// trip succeeds within the call. No caching and no side effects
// beyond the round trip itself.
func (c *Checker) Probe(ctx context.Context) bool {
	if !c.pool.Configured() {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.pool.Ping(probeCtx); err != nil {
		c.log.WithError(err).Debug("Database probe failed")

		return false
	}

	return true
}
