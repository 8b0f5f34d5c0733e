package repository

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
)

// Factory builds the repositories for the configured DB_DRIVER once and owns the connection.
type Factory struct {
	cfg   *config.Config
	repos *Repositories
	close func() error
	err   error
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg}
}

// GetRepositories opens the store on first use and returns the same instances afterwards.
func (f *Factory) GetRepositories() (*Repositories, error) {
	f.once.Do(func() {
		if f.cfg.DBDriver == config.DriverMemory {
			log.Warn("[Repository] DB_DRIVER=memory, pledges are lost on restart")
			f.repos = NewMemoryRepositories(f.cfg.TxMaxRetries)
			f.close = func() error { return nil }
			return
		}

		db, err := database.Open(f.cfg)
		if err != nil {
			f.err = fmt.Errorf("open %s database: %w", f.cfg.DBDriver, err)
			return
		}
		sqlDB, err := db.DB()
		if err != nil {
			f.err = err
			return
		}
		f.repos = NewRepositories(db, f.cfg.TxMaxRetries)
		f.close = sqlDB.Close
		log.Infof("[Repository] Using %s store", f.cfg.DBDriver)
	})
	return f.repos, f.err
}

// Close releases the database connection, if any
func (f *Factory) Close() error {
	if f.close == nil {
		return nil
	}
	return f.close()
}
