package failover

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlbkit/failover/internal/metrics"
	"github.com/nlbkit/failover/pkg/backoff"
	"github.com/nlbkit/failover/pkg/emitter"
	"github.com/nlbkit/failover/pkg/endpoint"
	"github.com/nlbkit/failover/pkg/socket"
)

// Notifications emitted to engine subscribers.
//
//	failover(from, to endpoint.Addr, conn *socket.Conn) — migration starting
//	upgraded(from, to endpoint.Addr, conn *socket.Conn) — new transport live
//	death(addr endpoint.Addr, conn *socket.Conn)        — no failover possible
const (
	EventFailover emitter.Event = "failover"
	EventUpgraded emitter.Event = "upgraded"
	EventDeath    emitter.Event = "death"
)

// Stats is the slice of the metrics sink the engine needs. Satisfied by
// internal/metrics implementations.
type Stats interface {
	Increment(string)
	Duration(string, time.Duration)
	Gauge(string, int)
}

// CounterSnapshot is a read-only copy of the engine's failover counters.
type CounterSnapshot = metrics.CounterSnapshot

const (
	DefaultAttempts = 5
	DefaultTimeout  = 1000 * time.Millisecond
	DefaultMinDelay = 1000 * time.Millisecond
)

// Config tunes one engine instance. Zero fields take the documented
// defaults; unknown environment keys are ignored by envconfig, and the
// destroyed flag is engine-owned state, not configuration.
type Config struct {
	// Attempts is the max reconnect dials against the chosen address
	// before the connection is marked dead. Default 5.
	Attempts int `envconfig:"optional"`
	// Timeout bounds a single reconnect dial. Default 1s.
	Timeout time.Duration `envconfig:"optional"`
	// MinDelay and MaxDelay bound the backoff between dials.
	// Defaults 1s and uncapped.
	MinDelay time.Duration `envconfig:"optional"`
	MaxDelay time.Duration `envconfig:"optional"`
	// Strategy selects the backoff curve: exponential (default),
	// fixed or fibonacci.
	Strategy backoff.StrategyName `envconfig:"optional"`
	// DisableReuse stops a dead address from being re-added to the
	// pool once after a failed reconnect. Reuse is on by default.
	DisableReuse bool `envconfig:"optional"`
	// DisableUpgrade stops the engine from driving migrations off its
	// own failover events; callers then call Migrate themselves.
	// Automatic upgrades are on by default.
	DisableUpgrade bool `envconfig:"optional"`
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinDelay <= 0 {
		c.MinDelay = DefaultMinDelay
	}
	if c.Strategy == "" {
		c.Strategy = backoff.ExponentialStrategy
	}
	return c
}

// Engine gives long-lived TCP connections transparent failover: when a
// tracked connection dies unexpectedly it reconnects to the next pooled
// address and migrates all registered behavior onto the new transport.
// Callers observe the swap only through failover/upgraded/death events.
type Engine struct {
	cfg      Config
	strategy backoff.Strategy

	mu          sync.Mutex
	pool        *endpoint.Pool
	groups      map[string][]*socket.Conn
	history     map[string]endpoint.Addr
	reused      map[string]bool
	classifiers map[string][]*emitter.Registration

	counters  *metrics.Counters
	stats     Stats
	em        *emitter.Emitter
	destroyed atomic.Bool
	log       zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger, stats Stats) *Engine {
	cfg = cfg.withDefaults()
	strategy, err := backoff.New(cfg.Strategy)
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to exponential backoff")
		strategy, _ = backoff.New(backoff.ExponentialStrategy)
	}
	if stats == nil {
		stats = metrics.Noop{}
	}
	return &Engine{
		cfg:         cfg,
		strategy:    strategy,
		pool:        endpoint.NewPool(),
		groups:      make(map[string][]*socket.Conn),
		history:     make(map[string]endpoint.Addr),
		reused:      make(map[string]bool),
		classifiers: make(map[string][]*emitter.Registration),
		counters:    metrics.NewCounters(),
		stats:       stats,
		em:          emitter.New(),
		log:         logger.With().Str("component", "failover-engine").Logger(),
	}
}

// Push adds addr to the failover pool. False means the key is already
// pooled or the engine is destroyed.
func (e *Engine) Push(addr endpoint.Addr) bool {
	if e.destroyed.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Add(addr)
}

// Reclaim removes addr from the pool. False means it was not pooled.
func (e *Engine) Reclaim(addr endpoint.Addr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Remove(addr)
}

// Connect registers conn for failover monitoring and hands the same
// handle back. A still-dialing conn is picked up once its connect signal
// fires. Registering twice is a no-op.
func (e *Engine) Connect(conn *socket.Conn) *socket.Conn {
	if conn == nil || e.destroyed.Load() {
		return conn
	}
	if !conn.Connected() {
		conn.Once(socket.EventConnect, func(...any) {
			e.Connect(conn)
		})
		return conn
	}

	addr := conn.RemoteAddr()
	key := addr.Key()

	e.mu.Lock()
	group := e.groups[key]
	for _, member := range group {
		if member.ID() == conn.ID() {
			e.mu.Unlock()
			return conn
		}
	}
	e.groups[key] = append(group, conn)
	e.mu.Unlock()

	e.armClassifier(conn)
	e.log.Debug().Str("conn_id", conn.ID()).Str("addr", key).Msg("tracking connection")
	return conn
}

// On subscribes fn to one of the engine notifications.
func (e *Engine) On(event emitter.Event, fn emitter.Callback) *emitter.Registration {
	return e.em.On(event, fn)
}

// Once subscribes fn for a single delivery.
func (e *Engine) Once(event emitter.Event, fn emitter.Callback) *emitter.Registration {
	return e.em.Once(event, fn)
}

func (e *Engine) Off(reg *emitter.Registration) bool {
	return e.em.Off(reg)
}

// End marks the engine destroyed, irreversibly suppressing all further
// failover activity. With nuke every tracked connection is force-closed.
// Reconnects already in flight run to completion but do not re-arm.
func (e *Engine) End(nuke bool) {
	if e.destroyed.Swap(true) {
		return
	}
	e.log.Info().Bool("nuke", nuke).Msg("engine destroyed")
	if !nuke {
		return
	}
	e.mu.Lock()
	var conns []*socket.Conn
	for _, group := range e.groups {
		conns = append(conns, group...)
	}
	e.groups = make(map[string][]*socket.Conn)
	e.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Destroy is an alias for End.
func (e *Engine) Destroy(nuke bool) {
	e.End(nuke)
}

func (e *Engine) Destroyed() bool {
	return e.destroyed.Load()
}

// Metrics returns a copy of the engine counters.
func (e *Engine) Metrics() CounterSnapshot {
	return e.counters.Snapshot()
}

// History maps each origin address key to the address it last failed
// over to. Observability only, never consulted for control decisions.
func (e *Engine) History() map[string]endpoint.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]endpoint.Addr, len(e.history))
	for k, v := range e.history {
		out[k] = v
	}
	return out
}

// PoolSize reports how many alternate addresses remain.
func (e *Engine) PoolSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Len()
}
