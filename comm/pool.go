package comm

import (
	"io"
	"sync"
)

// Pool holds one or more connections to a device.  Connections are created
// lazily with the maker and handed out one at a time; a caller holding a
// connection has it exclusively until it is returned.  Pools must be created
// with NewPool.
type Pool struct {
	size   int
	leased int
	conns  chan io.ReadWriteCloser
	maker  CreationFunc

	mu sync.Mutex
}

// NewPool creates a new pool which holds at most size connections made by
// maker.
func NewPool(size int, maker CreationFunc) *Pool {
	return &Pool{
		size:  size,
		conns: make(chan io.ReadWriteCloser, size),
		maker: maker,
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  The caller has exclusive use of the connection until it is given back
// with Put, or discarded with Destroy if it has gone bad (e.g., all calls
// error).
//
// If the error from Get is non-nil the connection must not be returned to the
// pool.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.mu.Lock()
	// a connection is idle, hand it out
	if len(p.conns) > 0 {
		c := <-p.conns
		p.leased++
		p.mu.Unlock()
		return c, nil
	}
	// all connections exist and are leased; wait for a return.  The lock
	// cannot be held across the channel receive or Put would deadlock.
	if p.leased == p.size {
		p.mu.Unlock()
		c := <-p.conns
		p.mu.Lock()
		p.leased++
		p.mu.Unlock()
		return c, nil
	}
	// room to grow; make a fresh connection.  Only count the lease if the
	// maker actually produced something.
	c, err := p.maker()
	if err == nil {
		p.leased++
	}
	p.mu.Unlock()
	return c, err
}

// Put restores a connection to the pool for reuse.
func (p *Pool) Put(c io.ReadWriteCloser) {
	p.mu.Lock()
	p.conns <- c
	p.leased--
	p.mu.Unlock()
}

// Destroy closes a connection and frees its slot in the pool.  Use instead of
// Put when the connection has gone bad; the next Get will dial fresh.
func (p *Pool) Destroy(c io.ReadWriteCloser) {
	c.Close()
	p.mu.Lock()
	p.leased--
	p.mu.Unlock()
}

// ReturnWithError puts the connection back if err is nil and destroys it
// otherwise.  Intended for use in a defer alongside Get:
//
//	conn, err := pool.Get()
//	if err != nil {
//		return err
//	}
//	defer func() { pool.ReturnWithError(conn, err) }()
func (p *Pool) ReturnWithError(c io.ReadWriteCloser, err error) {
	if err != nil {
		p.Destroy(c)
		return
	}
	p.Put(c)
}

// Close destroys all idle connections.  Leased connections are the holder's
// problem; Close does not wait for them.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for len(p.conns) > 0 {
		c := <-p.conns
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the number of connections owned by the pool, idle or leased.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.leased
}
