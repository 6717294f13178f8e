// Package db stores the ESCO taxonomy and the ingestion status record in
// SurrealDB.
package db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

const (
	dialTimeout     = 5 * time.Second
	defaultRetries  = 10
	conflictRetries = 3
)

func init() {
	// WebSocket upgrades fail when TLS negotiates HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection settings.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"

	// EmbeddingDimension sizes the HNSW vector indexes. Zero skips them.
	EmbeddingDimension int

	// MaxRetries bounds reconnect attempts of a dropped socket.
	MaxRetries int
}

// auth returns the credentials for the configured auth level.
func (c Config) auth() surrealdb.Auth {
	if c.AuthLevel == "database" {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

// Client is the SurrealDB-backed store. The socket reconnects on its own
// after a drop; NewClient itself fails fast when the server is down.
type Client struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	cfg  Config
	log  *slog.Logger
}

// NewClient dials, signs in and selects the namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "surrealdb")

	conn := dial(cfg, logger.New(log.Handler()))
	log.Info("connecting", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	c := &Client{conn: conn, cfg: cfg, log: log}
	if err := c.open(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	log.Info("connected", "namespace", cfg.Namespace, "database", cfg.Database)
	return c, nil
}

// dial prepares a reconnecting websocket with the CBOR codec. gorillaws
// appends /rpc to the base URL itself.
func dial(cfg Config, sdkLog logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	base := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     base,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLog,
			}), nil
		},
		dialTimeout,
		codec,
		sdkLog,
	)
	conn.Retryer = newRetryer(cfg.MaxRetries)
	return conn
}

func newRetryer(maxRetries int) *rews.ExponentialBackoffRetryer {
	r := rews.NewExponentialBackoffRetryer()
	r.InitialDelay = time.Second
	r.MaxDelay = 30 * time.Second
	r.Multiplier = 2
	r.MaxRetries = defaultRetries
	if maxRetries > 0 {
		r.MaxRetries = maxRetries
	}
	return r
}

// open signs in and selects the namespace and database.
func (c *Client) open(ctx context.Context) error {
	db, err := surrealdb.FromConnection(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	if _, err := db.SignIn(ctx, c.cfg.auth()); err != nil {
		return fmt.Errorf("sign in as %s (%s): %w", c.cfg.Username, c.authLevel(), err)
	}
	if err := db.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("use %s/%s: %w", c.cfg.Namespace, c.cfg.Database, err)
	}
	c.db = db
	return nil
}

func (c *Client) authLevel() string {
	if c.cfg.AuthLevel == "database" {
		return "database"
	}
	return "root"
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("closing connection")
	return c.conn.Close(ctx)
}

// Query runs raw SurrealQL.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	res, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	return res, wrapQueryError(err)
}

// exec runs a write statement, replaying it when a concurrent writer caused
// a transaction conflict.
func (c *Client) exec(ctx context.Context, sql string, vars map[string]any) error {
	var err error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		_, err = c.Query(ctx, sql, vars)
		if !errors.Is(err, ErrTransactionConflict) {
			return err
		}
		c.log.Debug("transaction conflict, retrying", "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return err
}

// IsConnected reports whether the database answers a trivial query.
func (c *Client) IsConnected(ctx context.Context) bool {
	if _, err := c.Query(ctx, "RETURN 1", nil); err != nil {
		c.log.Warn("connectivity check failed", "error", err)
		return false
	}
	return true
}
