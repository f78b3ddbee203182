// Package gatewaypool manages a bounded set of persistent TCP connections to a
// remote inference gateway and speaks the wire protocol over them.
//
// The pool shape (a buffered channel of idle slots, a mutex-guarded count of
// created connections, dialing on demand) is grounded on internal/ghostpool's
// container pool; here the pooled resource is a *net.Conn frame reader/writer
// instead of a container, and a failed slot is destroyed rather than scrubbed
// and requeued: its capacity is freed and the next Acquire dials a
// replacement.
package gatewaypool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeinfer/orchestrator/internal/circuitbreaker"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

// Slot wraps one live connection to the gateway.
type Slot struct {
	conn           net.Conn
	createdAt      time.Time
	nextReqID      uint32
}

func (s *Slot) reserveReqID() uint32 {
	return atomic.AddUint32(&s.nextReqID, 1)
}

// Pool is a bounded set of connections to a single (host, port) gateway
// endpoint, guarded by a circuit breaker so a gateway outage fails fast instead
// of piling up dial attempts.
type Pool struct {
	addr    string
	dialer  net.Dialer
	breaker *circuitbreaker.CircuitBreaker

	mu       sync.Mutex
	idle     chan *Slot
	capacity int
	created  int
	closed   bool
}

// Config configures a gateway connection pool.
type Config struct {
	Addr        string
	Capacity    int
	DialTimeout time.Duration
}

// New creates a pool for the given gateway address. Connections are created
// lazily on first Acquire, up to Capacity; the pool never blocks on startup.
func New(cfg Config, breakers *circuitbreaker.Manager) *Pool {
	cap := cfg.Capacity
	if cap <= 0 {
		cap = 1
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig("gateway:" + cfg.Addr)
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		slog.Warn("gateway circuit breaker state change", "breaker", name, "from", from, "to", to)
	}

	return &Pool{
		addr:     cfg.Addr,
		dialer:   net.Dialer{Timeout: dialTimeout},
		breaker:  breakers.GetOrCreate(breakerCfg.Name, breakerCfg),
		idle:     make(chan *Slot, cap),
		capacity: cap,
	}
}

// Acquire returns an idle slot, dialing a new connection if the pool hasn't
// reached capacity yet, or blocking until one is returned or ctx is done. The
// pool applies no internal timeout beyond ctx; the caller's deadline governs.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	if err := p.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("gatewaypool: %w", err)
	}

	select {
	case slot := <-p.idle:
		return slot, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("gatewaypool: pool closed")
	}
	if p.created < p.capacity {
		p.created++
		p.mu.Unlock()
		slot, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return slot, nil
	}
	p.mu.Unlock()

	select {
	case slot := <-p.idle:
		return slot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) dial(ctx context.Context) (*Slot, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, fmt.Errorf("gatewaypool: dial %s: %w", p.addr, err)
	}
	return &Slot{conn: conn, createdAt: time.Now()}, nil
}

// Release returns a healthy slot to the idle set. A slot that errored during
// use must go through Discard instead — it is never requeued.
func (p *Pool) Release(slot *Slot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slot.conn.Close()
		return
	}
	p.mu.Unlock()

	select {
	case p.idle <- slot:
	default:
		// Pool shrank or is momentarily oversubscribed; drop the extra connection.
		slot.conn.Close()
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
	}
}

// Discard closes a slot that failed an I/O operation and frees its capacity
// slot so the next Acquire dials a fresh replacement. Failed connections are
// never returned to the idle set.
func (p *Pool) Discard(slot *Slot) {
	slot.conn.Close()
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}

// Close closes every idle connection and marks the pool closed. Slots
// currently checked out by in-flight calls are closed as they're released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case slot := <-p.idle:
			slot.conn.Close()
		default:
			return nil
		}
	}
}

// Infer runs one inference round trip through the circuit breaker: acquire a
// slot, write the request frame, read the response frame, and return the slot
// to the pool on success or discard it on any I/O error.
func (p *Pool) Infer(ctx context.Context, model string, tensors []wire.Tensor) (wire.Response, error) {
	result, err := p.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		slot, err := p.Acquire(ctx)
		if err != nil {
			return wire.Response{}, err
		}

		if deadline, ok := ctx.Deadline(); ok {
			slot.conn.SetDeadline(deadline)
		} else {
			slot.conn.SetDeadline(time.Time{})
		}

		reqID := slot.reserveReqID()
		req := wire.Request{Model: model, Tensors: tensors}
		if err := wire.WriteRequest(slot.conn, req); err != nil {
			p.Discard(slot)
			return wire.Response{}, fmt.Errorf("gatewaypool: write request %d: %w", reqID, err)
		}

		resp, err := wire.ReadResponse(slot.conn)
		if err != nil {
			p.Discard(slot)
			return wire.Response{}, fmt.Errorf("gatewaypool: read response %d: %w", reqID, err)
		}

		p.Release(slot)
		return resp, nil
	})
	if err != nil {
		return wire.Response{}, err
	}
	return result.(wire.Response), nil
}
