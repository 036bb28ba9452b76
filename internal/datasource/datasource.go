// Package datasource resolves and provisions the database pools used by
// layer modules. A module maps to a named pool; pools are either bound by
// the owning process or created on demand from configuration.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DefaultName is the pool used by modules without their own mapping.
const DefaultName = "default"

const validateTimeout = 5 * time.Second

var (
	ErrPoolNotConfigured = errors.New("datasource: pool not configured")
	ErrUnsupportedDriver = errors.New("datasource: unsupported driver")
)

// drivers maps configured driver names to registered database/sql drivers.
var drivers = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "postgres",
	"pgx":      "pgx",
}

// Pool describes how to open one pool.
type Pool struct {
	Driver   string
	URL      string
	Username string
	Password string
	MaxOpen  int
}

// Config maps modules to pools.
type Config struct {
	DefaultName string
	Modules     map[string]string
	Pools       map[string]Pool
}

// Helper looks up, creates and binds pools. It is safe for concurrent use.
type Helper struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	bound map[string]*sql.DB
	local []*sql.DB
}

func New(cfg Config, logger *slog.Logger) *Helper {
	if cfg.DefaultName == "" {
		cfg.DefaultName = DefaultName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Helper{
		cfg:    cfg,
		logger: logger,
		bound:  make(map[string]*sql.DB),
	}
}

// Name returns the pool name configured for module. An empty module is
// the core service.
func (h *Helper) Name(module string) string {
	if module != "" {
		if name, ok := h.cfg.Modules[module]; ok && name != "" {
			return name
		}
	}
	return h.cfg.DefaultName
}

// Lookup returns the pool bound under name.
func (h *Helper) Lookup(name string) (*sql.DB, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, ok := h.bound[name]
	if !ok {
		h.logger.Info("pool not found", slog.String("pool", name))
	}
	return db, ok
}

// Bind registers db under name, replacing any previous binding. Bound pools
// are owned by the caller and are not closed by Close.
func (h *Helper) Bind(name string, db *sql.DB) {
	h.mu.Lock()
	h.bound[name] = db
	h.mu.Unlock()
}

// Check ensures the pool for module is available, creating and binding it
// from configuration when nothing is bound yet.
func (h *Helper) Check(ctx context.Context, module string) bool {
	name := h.Name(module)
	logger := h.logger.With(slog.String("pool", name), slog.String("module", module))
	logger.Info("checking database pool")

	if _, ok := h.Lookup(name); ok {
		logger.Info("using bound pool")
		return true
	}

	db, err := h.Create(ctx, name)
	if err != nil {
		logger.Error("create pool failed", slog.String("error", err.Error()))
		return false
	}
	h.Bind(name, db)
	_, ok := h.Lookup(name)
	return ok
}

// Create opens and validates the pool configured under name. The pool is
// closed by Close.
func (h *Helper) Create(ctx context.Context, name string) (*sql.DB, error) {
	p, ok := h.cfg.Pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotConfigured, name)
	}
	driver, ok := drivers[p.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, p.Driver)
	}
	dsn, err := p.dsn()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s pool %s: %w", p.Driver, name, err)
	}
	if p.MaxOpen > 0 {
		db.SetMaxOpenConns(p.MaxOpen)
	}
	if err := validate(ctx, driver, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("validate pool %s: %w", name, err)
	}

	h.mu.Lock()
	h.local = append(h.local, db)
	h.mu.Unlock()
	h.logger.Info("pool created", slog.String("pool", name), slog.String("driver", p.Driver))
	return db, nil
}

// Ping validates every bound pool.
func (h *Helper) Ping(ctx context.Context) error {
	h.mu.Lock()
	pools := make(map[string]*sql.DB, len(h.bound))
	for n, db := range h.bound {
		pools[n] = db
	}
	h.mu.Unlock()

	var errs []error
	for name, db := range pools {
		if err := db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pool %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the pools created by this helper.
func (h *Helper) Close() error {
	h.mu.Lock()
	local := h.local
	h.local = nil
	for name, db := range h.bound {
		for _, l := range local {
			if db == l {
				delete(h.bound, name)
			}
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, db := range local {
		if err := db.Close(); err != nil {
			h.logger.Error("close pool failed", slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		h.logger.Debug("closed locally created pool")
	}
	return errors.Join(errs...)
}

func (p Pool) dsn() (string, error) {
	if p.URL == "" {
		return "", fmt.Errorf("pool url is empty")
	}
	if p.Driver == "sqlite" || p.Username == "" {
		return p.URL, nil
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return "", fmt.Errorf("parse pool url: %w", err)
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	} else {
		u.User = url.User(p.Username)
	}
	return u.String(), nil
}

func validate(ctx context.Context, driver string, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if driver == "sqlite" {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
			return fmt.Errorf("set busy_timeout: %w", err)
		}
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}
