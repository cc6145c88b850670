// internal/db/db.go
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Config struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

func (c Config) dsn() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		ssl := c.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.Name, ssl,
		), nil
	case DriverSQLite:
		if c.SQLitePath == "" {
			return "", fmt.Errorf("sqlite path is empty")
		}
		return "file:" + c.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", nil
	}
	return "", fmt.Errorf("unsupported db driver %q", c.Driver)
}

// Open connects and pings. SQLite is limited to one connection so that
// writers serialize inside the process.
func Open(cfg Config) (*sql.DB, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}
	return conn, nil
}

// Migrate applies the embedded schema for driver. Every statement is
// idempotent, so it runs on each startup.
func Migrate(conn *sql.DB, driver string) error {
	raw, err := migrations.ReadFile("migrations/" + driver + ".sql")
	if err != nil {
		return fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
