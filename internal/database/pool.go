package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/config"
)

// Compile-time interface compliance check.
var _ Querier = (*Pool)(nil)

// ErrUnconfigured is returned by operations that need a backing store
// when no database connection was configured.
var ErrUnconfigured = errors.New("database not configured")

// Rows is the subset of pgx.Rows the rest of the service consumes.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier executes pooled read queries.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Notification is an asynchronous change event delivered on a
// database notification channel.
type Notification struct {
	Channel string
	Payload string
}

// NotifyConn is a dedicated, non-pooled connection held open
// indefinitely for channel subscriptions.
type NotifyConn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (Notification, error)
	Close(ctx context.Context) error
}

// Pool owns a bounded set of physical connections to one Postgres
// database. A Pool built from an incomplete DatabaseConfig is a valid
// object in unconfigured mode: every operation reports
// ErrUnconfigured instead of attempting a connection.
type Pool struct {
	log        logrus.FieldLogger
	cfg        config.DatabaseConfig
	pool       *pgxpool.Pool
	connConfig *pgx.ConnConfig
}

// NewPool creates a pool for the given configuration. The pool does
// not connect until Start is called.
func NewPool(log logrus.FieldLogger, cfg config.DatabaseConfig) *Pool {
	return &Pool{
		log: log.WithField("component", "database"),
		cfg: cfg,
	}
}

// Start establishes the connection pool. With an incomplete
// configuration it logs and returns nil, leaving the pool in
// unconfigured mode.
func (p *Pool) Start(ctx context.Context) error {
	if !p.cfg.Configured() {
		p.log.Info("No database configured, running without a backing store")

		return nil
	}

	dsn := p.dsn()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(p.cfg.PoolSize) //nolint:gosec // pool_size is validated positive and small.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	p.pool = pool
	p.connConfig = poolCfg.ConnConfig

	p.log.WithFields(logrus.Fields{
		"host":      p.cfg.Host,
		"database":  p.cfg.Database,
		"pool_size": p.cfg.PoolSize,
	}).Info("Database pool started")

	return nil
}

// Stop closes the connection pool.
func (p *Pool) Stop() {
	if p.pool != nil {
		p.log.Info("Closing database pool")
		p.pool.Close()
	}
}

// Configured reports whether the pool has a backing store.
func (p *Pool) Configured() bool {
	return p.pool != nil
}

// Query executes a pooled read query.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if p.pool == nil {
		return nil, ErrUnconfigured
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// Exec executes a fire-and-forget statement.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) error {
	if p.pool == nil {
		return ErrUnconfigured
	}

	_, err := p.pool.Exec(ctx, sql, args...)

	return err
}

// Ping performs a trivial round trip against the database.
func (p *Pool) Ping(ctx context.Context) error {
	if p.pool == nil {
		return ErrUnconfigured
	}

	return p.pool.Ping(ctx)
}

// Dedicated opens a direct, non-pooled connection. Channel
// subscriptions are tied to a single physical connection, so they
// cannot share the pool; the caller owns the connection and must
// close it.
func (p *Pool) Dedicated(ctx context.Context) (NotifyConn, error) {
	if p.connConfig == nil {
		return nil, ErrUnconfigured
	}

	conn, err := pgx.ConnectConfig(ctx, p.connConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to open dedicated connection: %w", err)
	}

	return &notifyConn{conn: conn}, nil
}

func (p *Pool) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.cfg.User, p.cfg.Password),
		Host:   fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port),
		Path:   "/" + p.cfg.Database,
	}

	return u.String()
}

type notifyConn struct {
	conn *pgx.Conn
}

// Listen subscribes the connection to a notification channel. The
// channel name goes through identifier quoting, never parameter
// binding: LISTEN does not accept bound parameters.
func (c *notifyConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())

	return err
}

// WaitForNotification blocks until a notification arrives or the
// connection fails.
func (c *notifyConn) WaitForNotification(ctx context.Context) (Notification, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return Notification{}, err
	}

	return Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

// Close releases the dedicated connection.
func (c *notifyConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
