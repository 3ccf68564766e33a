package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/logger"
	sharedstorage "github.com/examportal/trustcore/shared/storage"
	sharedpg "github.com/examportal/trustcore/shared/storage/pg"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier = sharedpg.Querier

// queryTimeout bounds every public storage call.
const queryTimeout = 5 * time.Second

type Storage struct {
	*sharedstorage.Storage
	db *sql.DB
}

func New(ctx context.Context, cfg *config.Config) (*Storage, error) {
	logger.Log.Info("connecting to database", "component", "storage", "host", cfg.Private.Pg.Host)
	db, err := sharedpg.Connect(ctx, cfg.Private.Pg, sharedpg.DefaultConnectionConfig())
	if err != nil {
		return nil, err
	}
	logger.Log.Info("connected to database", "component", "storage")
	return NewWithDB(db), nil
}

// NewWithDB wraps an established connection pool.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{Storage: sharedstorage.New(db), db: db}
}

func (s *Storage) Cleanup() error {
	return s.db.Close()
}

func (s *Storage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return sharedpg.WithTx(ctx, s.db, fn)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

type scanner interface {
	Scan(dest ...any) error
}
