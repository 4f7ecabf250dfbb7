package data

import (
	"context"
	"fmt"

	"go-pagewatch/internal/config"

	"github.com/spf13/afero"
)

// Open creates the Store selected by cfg. SQL backends are migrated before
// they are returned.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, config.DriverMySQL, config.DriverPostgres:
		db, err := NewDB(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := ApplyMigrations(db, cfg.Driver); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLStore(db, cfg.Driver), nil
	case config.DriverRedis:
		return NewRedisStore(ctx, cfg.DSN, "pagewatch")
	case config.DriverFile:
		return NewFileStore(afero.NewOsFs(), cfg.Path), nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
