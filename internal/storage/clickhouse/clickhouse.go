// Package clickhouse archives delivered signal events in ClickHouse.
package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultNativePort = "9000"
	dialTimeout       = 5 * time.Second
	maxOpenConns      = 4
)

// Conn wraps clickhouse driver.Conn for dependency injection.
type Conn struct {
	driver.Conn
}

// NewConn opens a native-protocol connection and verifies it.
func NewConn(ctx context.Context, dsn string) (*Conn, error) {
	opts, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &Conn{Conn: conn}, nil
}

// parseDSN accepts clickhouse://[user[:password]@]host[:port][/database].
func parseDSN(dsn string) (*clickhouse.Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "clickhouse" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host")
	}

	port := u.Port()
	if port == "" {
		port = defaultNativePort
	}

	opts := &clickhouse.Options{
		Protocol:     clickhouse.Native,
		Addr:         []string{u.Hostname() + ":" + port},
		DialTimeout:  dialTimeout,
		MaxOpenConns: maxOpenConns,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}
	if u.User != nil {
		opts.Auth.Username = u.User.Username()
		opts.Auth.Password, _ = u.User.Password()
	}
	opts.Auth.Database = strings.TrimPrefix(u.Path, "/")

	return opts, nil
}
