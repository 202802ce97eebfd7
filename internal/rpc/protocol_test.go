package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepherg/vshostbridge/internal/protocol"
)

type echoService struct{}

func (echoService) Echo(s string) (string, error) { return s, nil }

func (echoService) EchoBuffer(b []byte) ([]byte, error) { return b, nil }

func (echoService) Fail(string) (string, error) { return "", &RemoteError{Name: "boom", Message: "nope"} }

// slowService blocks until either its derived context is canceled or a
// generous deadline passes, so a test can observe a caller's
// cancellation actually propagating into a running handler.
type slowService struct {
	started  chan struct{}
	canceled chan struct{}
}

func (s *slowService) Slow(ctx context.Context) (string, error) {
	close(s.started)
	select {
	case <-ctx.Done():
		close(s.canceled)
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "too slow", nil
	}
}

func newPairedRPC(t *testing.T) (*RPCProtocol, *RPCProtocol) {
	t.Helper()
	sa, sb := newPipe()
	pa := protocol.NewPersistentProtocol(sa, logr.Discard(), protocol.WithKeepAlive(false))
	pb := protocol.NewPersistentProtocol(sb, logr.Discard(), protocol.WithKeepAlive(false))
	t.Cleanup(func() { pa.Dispose(); pb.Dispose() })

	ra := NewRPCProtocol(pa, logr.Discard())
	rb := NewRPCProtocol(pb, logr.Discard())
	return ra, rb
}

func TestRPCProtocolEchoRoundTrip(t *testing.T) {
	ra, rb := newPairedRPC(t)
	id := ProxyIdentifier{SID: "echo", NID: 0}
	rb.RegisterLocal(id, echoService{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := ra.Call(ctx, id, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestRPCProtocolMixedArgsBuffer(t *testing.T) {
	ra, rb := newPairedRPC(t)
	id := ProxyIdentifier{SID: "echo", NID: 0}
	rb.RegisterLocal(id, echoService{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := ra.Call(ctx, id, "echoBuffer", []byte("binary-payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("binary-payload"), result)
}

func TestRPCProtocolPeerErrorRejectsCaller(t *testing.T) {
	ra, rb := newPairedRPC(t)
	id := ProxyIdentifier{SID: "echo", NID: 0}
	rb.RegisterLocal(id, echoService{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := ra.Call(ctx, id, "fail", "x")
	require.Error(t, err)
	re, ok := err.(*RemoteError)
	require.True(t, ok)
	assert.Equal(t, "boom", re.Name)
}

func TestRPCProtocolMissingActorRepliesError(t *testing.T) {
	ra, _ := newPairedRPC(t)
	id := ProxyIdentifier{SID: "nobody", NID: 9}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := ra.Call(ctx, id, "whatever")
	require.Error(t, err)
}

// TestRPCProtocolCallerCancellationReachesRunningHandler exercises the
// scenario where a caller cancels its context while a call is in flight:
// the handler's derived context must observe the cancellation (Call
// emits an inner Cancel(req) frame, and RPCProtocol.handleCancel invokes
// the handler's context.CancelFunc on receipt), and the caller's own
// Call must reject with ErrCanceled rather than hang until the handler's
// eventual reply.
func TestRPCProtocolCallerCancellationReachesRunningHandler(t *testing.T) {
	ra, rb := newPairedRPC(t)
	id := ProxyIdentifier{SID: "slow", NID: 0}
	svc := &slowService{started: make(chan struct{}), canceled: make(chan struct{})}
	rb.RegisterLocal(id, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ra.Call(ctx, id, "slow")
		done <- err
	}()

	select {
	case <-svc.started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("Call did not return after ctx cancellation")
	}

	select {
	case <-svc.canceled:
	case <-time.After(time.Second):
		t.Fatal("handler's derived context was never canceled")
	}
}

func TestRPCProtocolDisposeRejectsPending(t *testing.T) {
	sa, _ := newPipe()
	pa := protocol.NewPersistentProtocol(sa, logr.Discard(), protocol.WithKeepAlive(false))
	ra := NewRPCProtocol(pa, logr.Discard())

	id := ProxyIdentifier{SID: "nobody", NID: 9}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := ra.Call(ctx, id, "whatever")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ra.Dispose()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("Call did not return after Dispose")
	}
}
