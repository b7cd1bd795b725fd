// Package database opens the MySQL pool and bootstraps the schema the
// poster position repositories expect.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Settings are the connection and pool parameters.  Zero pool values
// fall back to the defaults below.
type Settings struct {
	User, Password, Host, Port, Name string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

const (
	defaultMaxOpen     = 25
	defaultMaxLifetime = 30 * time.Minute
)

// DSN renders s as a go-sql-driver DSN.  Times are parsed in UTC and
// UPDATE reports matched rather than changed rows, which the position
// repository relies on to tell "no such row" from "nothing changed".
func (s Settings) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and pings within ctx.
func Open(ctx context.Context, s Settings) (*sql.DB, error) {
	db, err := sql.Open("mysql", s.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	maxOpen := s.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpen
	}
	lifetime := s.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
