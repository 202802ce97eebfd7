package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/stepherg/vshostbridge/internal/eventutil"
	"github.com/stepherg/vshostbridge/internal/protocol"
)

// Unresponsiveness bookkeeping constants (§4.6): distinct from
// PersistentProtocol's own 20s/load-estimator-gated diagnostic timeout —
// this is the RPC layer's own, faster signal derived purely from
// outstanding-request/Acknowledged bookkeeping.
const (
	rpcPollInterval       = 2 * time.Second
	rpcUnresponsiveThresh = 3 * time.Second
)

// ResponsiveState is the RPC layer's peer-liveness state, independent of
// any single outstanding call.
type ResponsiveState int

const (
	StateResponsive ResponsiveState = iota
	StateUnresponsive
)

func (s ResponsiveState) String() string {
	if s == StateUnresponsive {
		return "Unresponsive"
	}
	return "Responsive"
}

// RPCProtocol is the L3 dispatcher: it owns the locals registry keyed by
// ProxyIdentifier.NID (outgoing calls go through Call with the peer's
// identifier; there is no proxies table), correlates outgoing calls with their
// replies, dispatches incoming calls to registered handlers, and tracks
// peer responsiveness from Acknowledged timing.
type RPCProtocol struct {
	log        logr.Logger
	persistent *protocol.PersistentProtocol

	mu             sync.Mutex
	locals         map[uint8]any
	pendingReplies map[uint32]*PendingReply
	cancelFns      map[uint32]context.CancelFunc
	lastMessageID  uint32
	disposed       bool

	outstanding int
	responsive  bool
	deadline    time.Time

	onDidChangeResponsiveState *eventutil.Emitter[ResponsiveState]

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewRPCProtocol wires an RPCProtocol on top of an already-constructed
// PersistentProtocol, subscribing to its message and dispose events.
func NewRPCProtocol(p *protocol.PersistentProtocol, log logr.Logger) *RPCProtocol {
	r := &RPCProtocol{
		log:                        log.WithValues("component", "rpc.RPCProtocol"),
		persistent:                 p,
		locals:                     make(map[uint8]any),
		pendingReplies:             make(map[uint32]*PendingReply),
		cancelFns:                 make(map[uint32]context.CancelFunc),
		responsive:                 true,
		onDidChangeResponsiveState: eventutil.NewEmitter[ResponsiveState](),
		closeCh:                    make(chan struct{}),
	}
	p.OnMessage(r.onIncoming)
	p.OnDidDispose(r.Dispose)
	go r.pollResponsiveness()
	return r
}

// OnDidChangeResponsiveState registers a listener for Responsive/Unresponsive edges.
func (r *RPCProtocol) OnDidChangeResponsiveState(l func(ResponsiveState)) func() {
	return r.onDidChangeResponsiveState.On(l)
}

// RegisterLocal installs handler as the implementation of incoming calls
// addressed to id.NID.
func (r *RPCProtocol) RegisterLocal(id ProxyIdentifier, handler any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locals[id.NID] = handler
}

func (r *RPCProtocol) nextReq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMessageID++
	return r.lastMessageID
}

// Call invokes method on the peer's id.NID handler and blocks for the
// reply, forwarding ctx cancellation to the peer as an inner Cancel(req)
// message. args is serialized as RequestJSONArgs unless any element needs
// the mixedArray codec (nil, []byte, or SerializedWithBuffers), matching
// §4.6's argument-kind selection.
func (r *RPCProtocol) Call(ctx context.Context, id ProxyIdentifier, method string, args ...any) (any, error) {
	req := r.nextReq()
	pending := newPendingReply(req)

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil, ErrCanceled
	}
	r.pendingReplies[req] = pending
	r.mu.Unlock()

	r.onWillSendRequest()

	var payload []byte
	if NeedsMixedEncoding(args) {
		encArgs, err := EncodeArgs(args)
		if err != nil {
			r.dropPending(req)
			return nil, err
		}
		payload = EncodeRequestMixed(req, id.NID, method, encArgs, true)
	} else {
		argsJSON, err := json.Marshal(args)
		if err != nil {
			r.dropPending(req)
			return nil, err
		}
		payload = EncodeRequestJSON(req, id.NID, method, argsJSON, true)
	}

	if err := r.persistent.Send(payload); err != nil {
		r.dropPending(req)
		return nil, err
	}

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = r.persistent.Send(EncodeCancel(req))
		case <-pending.Done():
		case <-stopWatch:
		}
	}()

	v, err := pending.Wait(ctx)
	close(stopWatch)
	r.dropPending(req)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrCanceled
	}
	return v, err
}

func (r *RPCProtocol) dropPending(req uint32) {
	r.mu.Lock()
	delete(r.pendingReplies, req)
	r.mu.Unlock()
}

// onIncoming is the PersistentProtocol message listener: every ordered
// REGULAR payload is one inner RPC frame.
func (r *RPCProtocol) onIncoming(payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		r.log.Error(err, "decoding inner rpc envelope")
		return
	}
	switch {
	case env.Type.IsRequest():
		r.handleRequest(env)
	case env.Type == InnerAcknowledged:
		r.onDidReceiveAcknowledge()
	case env.Type == InnerCancel:
		r.handleCancel(env.Req)
	case env.Type == InnerReplyOKEmpty:
		r.resolvePending(env.Req, nil)
	case env.Type == InnerReplyOKVSBuffer:
		buf, err := env.Body.ReadBuffer()
		if err != nil {
			r.log.Error(err, "decoding ReplyOKVSBuffer", "req", env.Req)
			return
		}
		r.resolvePending(env.Req, buf)
	case env.Type == InnerReplyOKJSON:
		s, err := env.Body.ReadLongString()
		if err != nil {
			r.log.Error(err, "decoding ReplyOKJSON", "req", env.Req)
			return
		}
		var v any
		if len(s) > 0 {
			_ = json.Unmarshal([]byte(s), &v)
		}
		r.resolvePending(env.Req, v)
	case env.Type == InnerReplyOKJSONWithBuffers:
		n, err := env.Body.ReadUint32()
		if err != nil {
			r.log.Error(err, "decoding ReplyOKJSONWithBuffers count", "req", env.Req)
			return
		}
		s, err := env.Body.ReadLongString()
		if err != nil {
			r.log.Error(err, "decoding ReplyOKJSONWithBuffers json", "req", env.Req)
			return
		}
		buffers := make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			b, err := env.Body.ReadBuffer()
			if err != nil {
				r.log.Error(err, "decoding ReplyOKJSONWithBuffers buffer", "req", env.Req, "index", i)
				return
			}
			buffers = append(buffers, b)
		}
		v, err := DecodeSerializedWithBuffers([]byte(s), buffers)
		if err != nil {
			r.rejectPending(env.Req, err)
			return
		}
		r.resolvePending(env.Req, v)
	case env.Type == InnerReplyErrError:
		s, err := env.Body.ReadLongString()
		if err != nil {
			r.log.Error(err, "decoding ReplyErrError", "req", env.Req)
			return
		}
		r.rejectPending(env.Req, UnmarshalError([]byte(s)))
	case env.Type == InnerReplyErrEmpty:
		r.rejectPending(env.Req, UnmarshalError(nil))
	default:
		r.log.Info("dropping unknown inner rpc type", "type", env.Type)
	}
}

func (r *RPCProtocol) resolvePending(req uint32, v any) {
	r.mu.Lock()
	p, ok := r.pendingReplies[req]
	r.mu.Unlock()
	if ok {
		p.resolve(v)
	}
}

func (r *RPCProtocol) rejectPending(req uint32, err error) {
	r.mu.Lock()
	p, ok := r.pendingReplies[req]
	r.mu.Unlock()
	if ok {
		p.reject(err)
	}
}

func (r *RPCProtocol) handleCancel(req uint32) {
	r.mu.Lock()
	cancel, ok := r.cancelFns[req]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// handleRequest decodes and dispatches one incoming call. The Acknowledged
// reply is sent before the handler runs so the peer's responsiveness
// bookkeeping sees prompt activity regardless of handler latency.
func (r *RPCProtocol) handleRequest(env *Envelope) {
	rpcID, err := env.Body.ReadUint8()
	if err != nil {
		r.log.Error(err, "decoding request rpcId")
		return
	}
	methodRaw, err := env.Body.ReadShortString()
	if err != nil {
		r.log.Error(err, "decoding request method")
		return
	}
	method := stripMethodMarker(methodRaw)

	_ = r.persistent.Send(EncodeAcknowledged(env.Req))

	r.mu.Lock()
	handler, ok := r.locals[rpcID]
	r.mu.Unlock()
	if !ok {
		r.replyErr(env.Req, newHandlerError("missing actor for rpcId %d", rpcID))
		return
	}

	fn, mt, err := resolveMethod(handler, method)
	if err != nil {
		r.replyErr(env.Req, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if env.Type.HasCancellation() {
		r.mu.Lock()
		r.cancelFns[env.Req] = cancel
		r.mu.Unlock()
	}

	mixed := env.Type.IsMixed()
	body := env.Body

	go func() {
		defer func() {
			if env.Type.HasCancellation() {
				r.mu.Lock()
				delete(r.cancelFns, env.Req)
				r.mu.Unlock()
			}
			cancel()
			if p := recover(); p != nil {
				r.log.Error(nil, "rpc handler panicked", "panic", p, "method", method)
				r.replyErr(env.Req, newHandlerError("handler panic: %v", p))
			}
		}()

		var result any
		var callErr error
		if mixed {
			args, err := DecodeMixedArray(body)
			if err != nil {
				r.replyErr(env.Req, err)
				return
			}
			result, callErr = invokeMixed(fn, mt, args, ctx)
		} else {
			argsJSON, err := body.ReadLongString()
			if err != nil {
				r.replyErr(env.Req, err)
				return
			}
			result, callErr = invokeJSON(fn, mt, []byte(argsJSON), ctx)
		}
		if callErr != nil {
			r.replyErr(env.Req, callErr)
			return
		}
		r.replyOK(env.Req, result)
	}()
}

func (r *RPCProtocol) replyOK(req uint32, result any) {
	var payload []byte
	switch v := result.(type) {
	case nil:
		payload = EncodeReplyOKEmpty(req)
	case []byte:
		payload = EncodeReplyOKVSBuffer(req, v)
	case SerializedWithBuffers:
		j, buffers, err := EncodeSerializedWithBuffers(v)
		if err != nil {
			r.replyErr(req, err)
			return
		}
		payload = EncodeReplyOKJSONWithBuffers(req, j, buffers)
	default:
		j, err := json.Marshal(v)
		if err != nil {
			r.replyErr(req, err)
			return
		}
		payload = EncodeReplyOKJSON(req, j)
	}
	_ = r.persistent.Send(payload)
}

func (r *RPCProtocol) replyErr(req uint32, err error) {
	r.log.V(1).Info("replying with error", "req", req, "error", err)
	_ = r.persistent.Send(EncodeReplyErrError(req, MarshalError(err)))
}

// onWillSendRequest and onDidReceiveAcknowledge implement §4.6's
// unresponsiveness bookkeeping: each outstanding call extends the
// deadline; responsiveness flips back on the next Acknowledged.
func (r *RPCProtocol) onWillSendRequest() {
	r.mu.Lock()
	r.outstanding++
	r.deadline = time.Now().Add(rpcUnresponsiveThresh)
	r.mu.Unlock()
}

func (r *RPCProtocol) onDidReceiveAcknowledge() {
	r.mu.Lock()
	if r.outstanding > 0 {
		r.outstanding--
	}
	wasUnresponsive := !r.responsive
	r.responsive = true
	if r.outstanding > 0 {
		r.deadline = time.Now().Add(rpcUnresponsiveThresh)
	} else {
		r.deadline = time.Time{}
	}
	r.mu.Unlock()
	if wasUnresponsive {
		r.onDidChangeResponsiveState.Emit(StateResponsive)
	}
}

func (r *RPCProtocol) pollResponsiveness() {
	ticker := time.NewTicker(rpcPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			becameUnresponsive := false
			if r.responsive && r.outstanding > 0 && !r.deadline.IsZero() && time.Now().After(r.deadline) {
				r.responsive = false
				becameUnresponsive = true
			}
			r.mu.Unlock()
			if becameUnresponsive {
				r.onDidChangeResponsiveState.Emit(StateUnresponsive)
			}
		case <-r.closeCh:
			return
		}
	}
}

// Dispose cancels every pending reply and in-flight handler task with
// ErrCanceled/ctx cancellation. It does not close the underlying
// PersistentProtocol or socket.
func (r *RPCProtocol) Dispose() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.disposed = true
		pending := make([]*PendingReply, 0, len(r.pendingReplies))
		for _, p := range r.pendingReplies {
			pending = append(pending, p)
		}
		r.pendingReplies = make(map[uint32]*PendingReply)
		cancels := make([]context.CancelFunc, 0, len(r.cancelFns))
		for _, c := range r.cancelFns {
			cancels = append(cancels, c)
		}
		r.cancelFns = make(map[uint32]context.CancelFunc)
		r.mu.Unlock()

		close(r.closeCh)
		for _, p := range pending {
			p.reject(ErrCanceled)
		}
		for _, c := range cancels {
			c()
		}
	})
}
