package failover

import (
	"context"
	"net"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/nlbkit/failover/pkg/backoff"
	"github.com/nlbkit/failover/pkg/endpoint"
	"github.com/nlbkit/failover/pkg/socket"
)

// Migrate swaps conn's transport from from to to: caller behavior is
// detached, the new address is dialed with the configured retry budget,
// and behavior is reattached before the new transport goes live. On
// success the conn returns to active monitoring under its new address and
// upgraded fires; on failure behavior is still reattached (handlers are
// never silently lost), death fires, and — unless reuse is disabled — the
// dead address goes back into the pool once. The remaining pool is never
// consumed here: one failover tries one address.
//
// Engines with automatic upgrades call this themselves; with
// DisableUpgrade set it is the caller's entry point after a failover
// notification. downSince anchors the downtime metric.
func (e *Engine) Migrate(conn *socket.Conn, from, to endpoint.Addr, downSince time.Time) bool {
	snap := captureSnapshot(conn.Emitter())

	raw, err := e.dialWithRetry(context.Background(), to)

	downtime := time.Since(downSince)
	e.counters.AddDowntime(downtime)
	e.stats.Duration("downtime", downtime)

	if err != nil {
		e.counters.Failure()
		e.stats.Increment("failures")
		restoreSnapshot(conn.Emitter(), snap)
		e.reclaimDead(to)
		e.log.Error().
			Str("to", to.Key()).
			Err(err).
			Msg("reconnect failed, marking dead")
		e.em.Emit(EventDeath, to, conn)
		return false
	}

	e.counters.Success()
	e.stats.Increment("successes")
	restoreSnapshot(conn.Emitter(), snap)
	conn.Swap(raw, to)
	e.log.Info().
		Str("from", from.Key()).
		Str("to", to.Key()).
		Dur("downtime", downtime).
		Msg("upgraded")
	e.em.Emit(EventUpgraded, from, to, conn)
	e.Connect(conn)
	return true
}

// dialWithRetry tries the chosen address up to cfg.Attempts times, waiting
// out the configured backoff strategy between dials.
func (e *Engine) dialWithRetry(ctx context.Context, to endpoint.Addr) (net.Conn, error) {
	opts := backoff.Options{
		MinDelay: e.cfg.MinDelay,
		MaxDelay: e.cfg.MaxDelay,
		Timeout:  e.cfg.MinDelay,
		Retries:  e.cfg.Attempts,
	}
	var raw net.Conn
	err := retry.Do(
		func() error {
			c, err := socket.DialRaw(ctx, to, e.cfg.Timeout)
			if err != nil {
				return err
			}
			raw = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.Attempts)),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			delay, _, err := e.strategy.Next(opts, backoff.State{Attempt: int(n)})
			if err != nil {
				// budget is enforced by retry.Attempts, do not sleep extra
				return 0
			}
			return delay
		}),
	)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// reclaimDead re-adds a dead address to the pool once so a later failover
// may try it again.
func (e *Engine) reclaimDead(addr endpoint.Addr) {
	if e.cfg.DisableReuse || e.destroyed.Load() {
		return
	}
	key := addr.Key()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reused[key] {
		return
	}
	e.reused[key] = true
	e.pool.Add(addr)
}
