package gatewaypool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeinfer/orchestrator/internal/circuitbreaker"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

// fakeGateway echoes a single float32 tensor back as the sole output blob.
func fakeGateway(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			go func(c net.Conn) {
				defer c.Close()
				for {
					req, err := wire.ReadRequest(c)
					if err != nil {
						return
					}
					var out [][]byte
					for _, tensor := range req.Tensors {
						out = append(out, tensor.Raw)
					}
					if err := wire.WriteResponse(c, wire.Response{ReqID: 1, Status: 0, Outputs: out}); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	// stop closes the listener and every accepted connection, so an idle pooled
	// slot sees its peer gone on the next round trip.
	return ln.Addr().String(), func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	}
}

func TestPoolInferRoundTrip(t *testing.T) {
	addr, stop := fakeGateway(t)
	defer stop()

	pool := New(Config{Addr: addr, Capacity: 2}, circuitbreaker.NewManager(nil))
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tensor := wire.Tensor{DType: wire.DTypeFloat32, Dims: []int32{1}, Raw: []byte{1, 2, 3, 4}}
	resp, err := pool.Infer(ctx, "model", []wire.Tensor{tensor})
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Status)
	require.Len(t, resp.Outputs, 1)
	require.Equal(t, tensor.Raw, resp.Outputs[0])
}

func TestPoolDiscardsFailedSlotInsteadOfRequeuing(t *testing.T) {
	addr, stop := fakeGateway(t)

	pool := New(Config{Addr: addr, Capacity: 1}, circuitbreaker.NewManager(nil))
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First call succeeds and establishes the one connection the pool can hold.
	tensor := wire.Tensor{DType: wire.DTypeFloat32, Dims: []int32{1}, Raw: []byte{1, 2, 3, 4}}
	_, err := pool.Infer(ctx, "model", []wire.Tensor{tensor})
	require.NoError(t, err)

	// Kill the gateway so the next round trip fails mid-flight.
	stop()

	_, err = pool.Infer(ctx, "model", []wire.Tensor{tensor})
	require.Error(t, err)

	require.Equal(t, 0, len(pool.idle), "failed slot must not be requeued as idle")
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	addr, stop := fakeGateway(t)
	defer stop()

	pool := New(Config{Addr: addr, Capacity: 1}, circuitbreaker.NewManager(nil))
	defer pool.Close()

	ctx := context.Background()
	slot, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(slot)

	// Pool is at capacity and the one slot is checked out; a second Acquire
	// must block until its context is canceled rather than dialing past capacity.
	cancelCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(cancelCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
