package failover

import (
	"github.com/nlbkit/failover/pkg/emitter"
	"github.com/nlbkit/failover/pkg/socket"
)

// snapshot holds the caller behavior detached from a connection while its
// transport is swapped. Only event kinds with at least one registration
// get an entry.
type snapshot map[emitter.Event][]*emitter.Registration

// captureSnapshot destructively detaches every registration of the fixed
// event kinds from em, preserving order and one-shot semantics. A once
// listener that already fired is simply no longer registered, so capture
// cannot resurrect it.
func captureSnapshot(em *emitter.Emitter) snapshot {
	snap := make(snapshot)
	for _, kind := range socket.Kinds() {
		if regs := em.Take(kind); regs != nil {
			snap[kind] = regs
		}
	}
	return snap
}

// restoreSnapshot reattaches the captured registrations in their original
// order with their original semantics.
func restoreSnapshot(em *emitter.Emitter, snap snapshot) {
	for _, kind := range socket.Kinds() {
		em.Put(kind, snap[kind])
	}
}
