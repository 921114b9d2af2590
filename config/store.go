package config

import (
	"context"
	"fmt"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/store/mongo"
	"github.com/xraph/coffer/store/postgres"
	"github.com/xraph/coffer/store/sqlite"
)

// OpenStore connects the configured backend. The caller owns the returned
// store and must Close it.
func (s StoreConfig) OpenStore(ctx context.Context) (store.Store, error) {
	switch s.Driver {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverSQLite:
		st, err := sqlite.Open(s.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverPostgres:
		st, err := postgres.New(ctx, s.DSN, postgres.Config{
			MaxConns:        s.MaxConns,
			MaxConnLifetime: s.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMongo:
		st, err := mongo.Connect(s.DSN, s.Database)
		if err != nil {
			return nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", coffer.ErrConfiguration, s.Driver)
	}
}
