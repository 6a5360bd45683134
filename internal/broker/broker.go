// Package broker turns stored database connection configurations into live
// handles: cached for repeated use, or ephemeral for one-shot query
// execution and connection tests. Tunneled configurations go through
// sshtunnel; the broker owns and closes every tunnel it opens.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/herihandoko/apimanager-new-sub000/internal/calllog"
	"github.com/herihandoko/apimanager-new-sub000/internal/crypto"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
	"github.com/herihandoko/apimanager-new-sub000/internal/sshtunnel"
)

// setupTimeout bounds connection establishment and liveness probes. It is
// the same fixed deadline the tunnel layer uses for the SSH handshake.
const setupTimeout = 10 * time.Second

// DefaultCacheTTL is how long a cached handle is reused before the next
// request reopens it.
const DefaultCacheTTL = 5 * time.Minute

type cachedConn struct {
	conn     *openConn
	openedAt time.Time
}

// openConn pairs a database handle with the tunnel it may depend on, so both
// are always released together.
type openConn struct {
	db     *gorm.DB
	tunnel *sshtunnel.Tunnel
}

func (c *openConn) Close() {
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if c.tunnel != nil {
		c.tunnel.Close()
	}
}

// Broker resolves stored connection configurations into live handles and
// caches the shared ones by connection id.
type Broker struct {
	ttl time.Duration

	mu    sync.Mutex
	cache map[uint]*cachedConn

	// group serializes cache population per connection id, so concurrent
	// misses share a single connect instead of racing and overwriting each
	// other's handles.
	group singleflight.Group
}

func New(ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Broker{
		ttl:   ttl,
		cache: make(map[uint]*cachedConn),
	}
}

// GetConnection returns a ready-to-query handle for the stored connection,
// reusing a live cached one when present.
func (b *Broker) GetConnection(ctx context.Context, id uint) (*gorm.DB, error) {
	b.mu.Lock()
	if entry, ok := b.cache[id]; ok && time.Since(entry.openedAt) < b.ttl {
		db := entry.conn.db
		b.mu.Unlock()
		return db, nil
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		// Re-check under the flight: another caller may have populated the
		// entry while we waited for the flight slot.
		b.mu.Lock()
		if entry, ok := b.cache[id]; ok && time.Since(entry.openedAt) < b.ttl {
			db := entry.conn.db
			b.mu.Unlock()
			return db, nil
		}
		b.mu.Unlock()

		cfg, err := b.loadConfig(id)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		conn, err := open(ctx, cfg)
		if err != nil {
			calllog.Connection("", id, "connect", "error", time.Since(start), err.Error())
			return nil, err
		}
		calllog.Connection("", id, "connect", "success", time.Since(start), "")

		b.mu.Lock()
		if old, ok := b.cache[id]; ok {
			// Superseded handle: close it rather than leak it.
			old.conn.Close()
		}
		b.cache[id] = &cachedConn{conn: conn, openedAt: time.Now()}
		b.mu.Unlock()

		return conn.db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB), nil
}

// ExecuteQuery runs one query end-to-end on a fresh, uncached connection and
// guarantees teardown of both the handle and any tunnel regardless of
// outcome. The cache is deliberately bypassed so query-specific session
// state never leaks into a shared handle.
func (b *Broker) ExecuteQuery(ctx context.Context, requestID string, id uint, query string, params []any) (*QueryResult, error) {
	cfg, err := b.loadConfig(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := open(ctx, cfg)
	if err != nil {
		calllog.Connection(requestID, id, "connect", "error", time.Since(start), err.Error())
		return nil, err
	}
	defer conn.Close()
	calllog.Connection(requestID, id, "connect", "success", time.Since(start), "")

	qStart := time.Now()
	result, err := runQuery(ctx, conn.db, query, params)
	if err != nil {
		calllog.Connection(requestID, id, "query", "error", time.Since(qStart), err.Error())
		return nil, fault.Wrap(fault.Upstream, err, "query execution failed")
	}
	calllog.Connection(requestID, id, "query", "success", time.Since(qStart), "")

	return result, nil
}

// TestConnection validates reachability of a configuration (which may be
// unsaved) with a trivial liveness probe raced against the setup deadline.
// It never touches the cache and closes everything it opens.
func (b *Broker) TestConnection(ctx context.Context, cfg *database.DatabaseConnection) error {
	conn, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	probeCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	sqlDB, err := conn.db.DB()
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "get sql.DB")
	}
	var one int
	if err := sqlDB.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
			return fault.Wrap(fault.Timeout, err, "liveness probe timed out after %s", setupTimeout)
		}
		return fault.Wrap(fault.Upstream, err, "liveness probe failed")
	}
	return nil
}

// Invalidate drops (and closes) the cached handle for a connection id. Used
// when the stored configuration is edited or deleted.
func (b *Broker) Invalidate(id uint) {
	b.mu.Lock()
	entry, ok := b.cache[id]
	if ok {
		delete(b.cache, id)
	}
	b.mu.Unlock()
	if ok {
		entry.conn.Close()
	}
}

// Sweep closes and evicts expired cache entries. Wired to the cron schedule.
func (b *Broker) Sweep() {
	var expired []*cachedConn
	b.mu.Lock()
	for id, entry := range b.cache {
		if time.Since(entry.openedAt) >= b.ttl {
			expired = append(expired, entry)
			delete(b.cache, id)
		}
	}
	b.mu.Unlock()

	for _, entry := range expired {
		entry.conn.Close()
	}
	if len(expired) > 0 {
		log.Printf("[broker] evicted %d expired connection(s)", len(expired))
	}
}

// CloseAll closes every cached handle. Used during shutdown.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	all := b.cache
	b.cache = make(map[uint]*cachedConn)
	b.mu.Unlock()

	for _, entry := range all {
		entry.conn.Close()
	}
	if len(all) > 0 {
		log.Printf("[broker] closed %d cached connection(s)", len(all))
	}
}

// CachedCount returns the number of live cache entries.
func (b *Broker) CachedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

func (b *Broker) loadConfig(id uint) (*database.DatabaseConnection, error) {
	cfg, err := database.GetConnection(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "connection %d not found", id)
		}
		return nil, fmt.Errorf("load connection %d: %w", id, err)
	}
	if !cfg.Active {
		return nil, fault.New(fault.Inactive, "connection %d is disabled", id)
	}
	return cfg, nil
}

// open establishes a database handle per the stored configuration, going
// through an SSH tunnel when the config says so. The whole establishment is
// raced against the fixed setup deadline: the gorm dialectors run a real
// handshake inside Open, so bounding only the ping would let a stalled
// server block forever. A late winner is closed, not leaked.
func open(ctx context.Context, cfg *database.DatabaseConnection) (*openConn, error) {
	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	type result struct {
		conn *openConn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := establish(setupCtx, cfg)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-setupCtx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		err := setupCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.Wrap(fault.Timeout, err, "database connect timed out after %s", setupTimeout)
		}
		return nil, fault.Wrap(fault.Upstream, err, "database connect aborted")
	}
}

func establish(ctx context.Context, cfg *database.DatabaseConnection) (*openConn, error) {
	host := cfg.Host
	port := cfg.Port

	var tunnel *sshtunnel.Tunnel
	if cfg.UseTunnel {
		sshPassword, err := crypto.Decrypt(cfg.SSHPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypt ssh password: %w", err)
		}
		sshKey, err := crypto.Decrypt(cfg.SSHPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt ssh key: %w", err)
		}

		tunnel, err = sshtunnel.Open(ctx, sshtunnel.Config{
			Host:       cfg.SSHHost,
			Port:       cfg.SSHPort,
			User:       cfg.SSHUser,
			Password:   sshPassword,
			PrivateKey: sshKey,
			RemoteHost: cfg.Host,
			RemotePort: cfg.Port,
			LocalPort:  cfg.LocalPort,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fault.Wrap(fault.Timeout, err, "ssh tunnel setup timed out")
			}
			return nil, fault.Wrap(fault.Upstream, err, "ssh tunnel setup failed")
		}
		host = "127.0.0.1"
		port = tunnel.LocalPort()
	}

	password, err := crypto.Decrypt(cfg.Password)
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("decrypt password: %w", err)
	}

	dialector, err := dialectorFor(cfg, host, port, password)
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fault.Wrap(fault.Upstream, err, "open database connection")
	}

	conn := &openConn{db: gdb, tunnel: tunnel}

	sqlDB, err := gdb.DB()
	if err != nil {
		conn.Close()
		return nil, fault.Wrap(fault.Upstream, err, "get sql.DB")
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		conn.Close()
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fault.Wrap(fault.Timeout, err, "database connect timed out after %s", setupTimeout)
		}
		return nil, fault.Wrap(fault.Upstream, err, "database connect failed")
	}

	return conn, nil
}

func dialectorFor(cfg *database.DatabaseConnection, host string, port int, password string) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		// Driver-level timeouts back up the setup deadline so a stalled
		// server fails the dial instead of tying up the connect goroutine.
		params := fmt.Sprintf("parseTime=true&timeout=%s&readTimeout=%s&writeTimeout=%s",
			setupTimeout, setupTimeout, setupTimeout)
		if cfg.UseTLS {
			params += "&tls=true"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", cfg.Username, password, host, port, cfg.DBName, params)
		return mysql.Open(dsn), nil
	case "postgres":
		sslmode := "disable"
		if cfg.UseTLS {
			sslmode = "require"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
			host, port, cfg.Username, password, cfg.DBName, sslmode, int(setupTimeout.Seconds()))
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.DBName), nil
	default:
		return nil, fault.New(fault.Validation, "unsupported driver %q", cfg.Driver)
	}
}
