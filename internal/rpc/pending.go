package rpc

import (
	"context"
	"sync"
)

// PendingReply is the one-shot completion sink for an outgoing call: the
// caller blocks on Wait while the RPCProtocol resolves or rejects it
// exactly once, from the incoming-reply path or from Dispose.
type PendingReply struct {
	req  uint32
	done chan struct{}
	once sync.Once
	value any
	err   error
}

func newPendingReply(req uint32) *PendingReply {
	return &PendingReply{req: req, done: make(chan struct{})}
}

// resolve completes the reply successfully. Only the first of
// resolve/reject takes effect.
func (p *PendingReply) resolve(v any) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

// reject completes the reply with an error. Only the first of
// resolve/reject takes effect.
func (p *PendingReply) reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Wait blocks until the reply resolves, rejects, or ctx is done, whichever
// comes first. A ctx cancellation does not itself reject the reply (the
// caller is expected to also emit Cancel(req), which it does via
// RPCProtocol.Call); Wait merely stops waiting.
func (p *PendingReply) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports the reply's completion channel, for callers (like the
// cancellation-watcher goroutine) that need to select on it directly.
func (p *PendingReply) Done() <-chan struct{} { return p.done }
