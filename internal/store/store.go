// Package store abre el Credential Store relacional según el driver configurado.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/store/memory"
	"github.com/dropDatabas3/authority/internal/store/pg"
)

type Config struct {
	Driver   string // "postgres" | "memory"
	DSN      string
	Postgres pg.Config
}

// Stores expone el repositorio y, para postgres, el *sql.DB que usa el migration runner.
type Stores struct {
	Repository repository.Store
	SQL        *sql.DB // nil si el driver no es SQL
	Driver     string
	Close      func()
}

// Open abre el store.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	switch d := strings.ToLower(cfg.Driver); d {
	case "postgres", "pg", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres driver requires a dsn")
		}
		s, err := pg.New(ctx, cfg.DSN, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		db := s.SQLDB()
		return &Stores{
			Repository: s,
			SQL:        db,
			Driver:     "postgres",
			Close: func() {
				_ = db.Close()
				s.Close()
			},
		}, nil
	case "memory", "":
		return &Stores{Repository: memory.New(), Driver: "memory", Close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}
