package endpoint

// Pool is an ordered collection of alternate addresses, unique by key.
// PopNext hands out the most recently added address first, so order is
// caller-controlled priority.
//
// Pool is not safe for concurrent use; the owner serializes access.
type Pool struct {
	addrs []Addr
}

func NewPool(addrs ...Addr) *Pool {
	p := &Pool{addrs: make([]Addr, 0, len(addrs))}
	for _, addr := range addrs {
		p.Add(addr)
	}
	return p
}

// Add appends addr, returns false if its key is already present.
func (p *Pool) Add(addr Addr) bool {
	if p.Has(addr.Key()) {
		return false
	}
	p.addrs = append(p.addrs, addr)
	return true
}

// Remove deletes addr by key, returns false if not present.
func (p *Pool) Remove(addr Addr) bool {
	key := addr.Key()
	for i := range p.addrs {
		if p.addrs[i].Key() == key {
			p.addrs = append(p.addrs[:i], p.addrs[i+1:]...)
			return true
		}
	}
	return false
}

// PopNext removes and returns the last address. ok is false on empty pool.
func (p *Pool) PopNext() (addr Addr, ok bool) {
	if len(p.addrs) == 0 {
		return Addr{}, false
	}
	last := len(p.addrs) - 1
	addr = p.addrs[last]
	p.addrs = p.addrs[:last]
	return addr, true
}

func (p *Pool) Has(key string) bool {
	for i := range p.addrs {
		if p.addrs[i].Key() == key {
			return true
		}
	}
	return false
}

func (p *Pool) Len() int {
	return len(p.addrs)
}

// Snapshot returns a copy of the current priority order.
func (p *Pool) Snapshot() []Addr {
	out := make([]Addr, len(p.addrs))
	copy(out, p.addrs)
	return out
}
