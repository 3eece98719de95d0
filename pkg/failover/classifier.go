package failover

import (
	"errors"
	"sync"
	"time"

	"github.com/nlbkit/failover/pkg/emitter"
	"github.com/nlbkit/failover/pkg/socket"
)

// armClassifier instruments conn so the engine learns why it closed. The
// transport gives no origin tag, so classification combines the local-close
// flag the socket sets synchronously on Close/End with the error and
// remote-EOF signals from teardown. Both listeners detach on the first
// settlement, so repeated close/error signals classify at most once.
func (e *Engine) armClassifier(conn *socket.Conn) {
	var (
		once     sync.Once
		closeReg *emitter.Registration
		errReg   *emitter.Registration
	)
	settle := func(err error, remoteEnded bool) {
		once.Do(func() {
			e.disarm(conn)
			e.onClosure(conn, err, remoteEnded)
		})
	}
	closeReg = conn.Once(socket.EventClose, func(args ...any) {
		var err error
		var remoteEnded bool
		if len(args) > 0 && args[0] != nil {
			err, _ = args[0].(error)
		}
		if len(args) > 1 {
			remoteEnded, _ = args[1].(bool)
		}
		settle(err, remoteEnded)
	})
	errReg = conn.Once(socket.EventError, func(args ...any) {
		err := errors.New("transport error")
		if len(args) > 0 {
			if cast, ok := args[0].(error); ok && cast != nil {
				err = cast
			}
		}
		settle(err, false)
	})

	e.mu.Lock()
	e.classifiers[conn.ID()] = []*emitter.Registration{closeReg, errReg}
	e.mu.Unlock()
}

// disarm detaches conn's classifier listeners so they cannot classify again
// and cannot be swept into a behavior snapshot during migration.
func (e *Engine) disarm(conn *socket.Conn) {
	e.mu.Lock()
	regs := e.classifiers[conn.ID()]
	delete(e.classifiers, conn.ID())
	e.mu.Unlock()
	for _, reg := range regs {
		conn.Off(reg)
	}
}

// onClosure classifies a finished teardown and, for unintentional ones,
// starts the failover. Intentional closures only drop the connection from
// its group.
func (e *Engine) onClosure(conn *socket.Conn, err error, remoteEnded bool) {
	downSince := time.Now()
	from := conn.RemoteAddr()
	key := from.Key()

	if e.destroyed.Load() {
		e.log.Debug().Str("addr", key).Msg("closure after destroy, ignoring")
		return
	}

	e.mu.Lock()
	group, member := e.groups[key], false
	for _, sibling := range group {
		if sibling.ID() == conn.ID() {
			member = true
			break
		}
	}
	if !member {
		// already drained by a sibling's closure or never tracked
		e.mu.Unlock()
		return
	}

	unintentional := !conn.LocalClosed() && (err != nil || remoteEnded)
	if !unintentional {
		e.removeFromGroupLocked(key, conn)
		e.mu.Unlock()
		e.log.Debug().Str("addr", key).Msg("intentional close, no failover")
		return
	}

	next, ok := e.pool.PopNext()
	if !ok {
		e.removeFromGroupLocked(key, conn)
		e.mu.Unlock()
		e.log.Warn().Str("addr", key).Msg("pool exhausted, marking dead")
		e.stats.Increment("death")
		e.em.Emit(EventDeath, from, conn)
		return
	}

	// the whole group migrates together: siblings that close while the
	// migration is in flight are no longer members and classify to nothing
	drained := e.groups[key]
	delete(e.groups, key)
	e.history[key] = next
	e.mu.Unlock()

	for _, sibling := range drained {
		e.disarm(sibling)
	}

	e.counters.Attempt()
	e.stats.Increment("attempts")
	e.log.Info().
		Str("from", key).
		Str("to", next.Key()).
		Int("group_size", len(drained)).
		Err(err).
		Msg("failing over")
	e.em.Emit(EventFailover, from, next, conn)

	if e.cfg.DisableUpgrade {
		return
	}
	go func() {
		for _, sibling := range drained {
			e.Migrate(sibling, from, next, downSince)
		}
	}()
}

func (e *Engine) removeFromGroupLocked(key string, conn *socket.Conn) {
	group := e.groups[key]
	for i, member := range group {
		if member.ID() == conn.ID() {
			e.groups[key] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(e.groups[key]) == 0 {
		delete(e.groups, key)
	}
}
