package protocol

import (
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/stepherg/vshostbridge/internal/eventutil"
	"github.com/stepherg/vshostbridge/internal/loadestimator"
	"github.com/stepherg/vshostbridge/internal/socket"
	"github.com/stepherg/vshostbridge/internal/wire"
)

// TimeoutEvent is the diagnostic payload fired by OnSocketTimeout when the
// unresponsiveness detector's three conditions all hold at once
// (SPEC_FULL.md §4.4).
type TimeoutEvent struct {
	UnacknowledgedCount int
	TimeSinceOldestMsg  time.Duration
	TimeSinceLastRx     time.Duration
}

// Option configures a PersistentProtocol at construction time.
type Option func(*PersistentProtocol)

// WithLoadEstimator overrides the default loadestimator.AlwaysLow.
func WithLoadEstimator(e loadestimator.Estimator) Option {
	return func(p *PersistentProtocol) { p.loadEstimator = e }
}

// WithKeepAlive enables or disables the periodic KeepAlive emission.
// Enabled by default.
func WithKeepAlive(enabled bool) Option {
	return func(p *PersistentProtocol) { p.keepAliveEnabled = enabled }
}

// WithUnresponsiveThreshold overrides the default 20s threshold the §4.4
// unresponsiveness detector uses for all three of its staleness checks.
func WithUnresponsiveThreshold(d time.Duration) Option {
	return func(p *PersistentProtocol) { p.unresponsiveThreshold = d }
}

// WithReconnectionGrace overrides the default 3h grace period a
// PersistentProtocol waits, after its socket closes, for
// BeginAcceptReconnection to splice in a new one before giving up and
// disposing itself. A protocol that has already spliced in one
// reconnection uses ReconnectionShortGraceTime on any subsequent drop,
// so a link that keeps flapping is torn down faster each time.
func WithReconnectionGrace(d time.Duration) Option {
	return func(p *PersistentProtocol) { p.reconnectionGrace = d }
}

// PersistentProtocol is the L2 layer: it owns a replaceable (sock, Reader,
// Writer) triple and adds reliable, ordered delivery across reconnections,
// keep-alive, and unresponsiveness detection on top of L1's framing.
//
// A PersistentProtocol instance outlives any single socket: Send/receive
// state (nextOutID, the unacked queue, nextInID) is tracked here, not in
// the L1 reader/writer, precisely so beginAcceptReconnection can swap the
// transport without losing in-flight messages or resetting sequence
// numbers the peer already depends on.
type PersistentProtocol struct {
	log           logr.Logger
	loadEstimator loadestimator.Estimator

	keepAliveEnabled      bool
	unresponsiveThreshold time.Duration

	reconnectionGrace      time.Duration
	reconnectionShortGrace time.Duration
	hadReconnection        bool
	graceTimer             *time.Timer

	mu            sync.Mutex
	sock          socket.Socket
	reader        *Reader
	writer        *Writer
	unregisterFns []func()
	generation    uint64

	nextOutID  uint32
	unackQueue []*wire.Message

	nextInID            uint32
	lastIncomingMsgTime time.Time
	lastAckSentAt       uint32
	ackTimerArmed       bool
	lastReplayRequestAt time.Time
	lastTimeoutAt       time.Time
	isReconnecting      bool

	disposed  bool
	closeCh   chan struct{}
	closeOnce sync.Once

	onMessage        *eventutil.Emitter[[]byte]
	onControlMessage *eventutil.Emitter[[]byte]
	onSocketClose    *eventutil.Emitter[socket.CloseEvent]
	onSocketTimeout  *eventutil.Emitter[TimeoutEvent]
	onDidDispose     *eventutil.Emitter[struct{}]
}

// NewPersistentProtocol constructs a PersistentProtocol bound to an
// already-connected sock and starts it receiving.
func NewPersistentProtocol(sock socket.Socket, log logr.Logger, opts ...Option) *PersistentProtocol {
	p := &PersistentProtocol{
		log:                    log.WithValues("component", "protocol.PersistentProtocol"),
		loadEstimator:          loadestimator.AlwaysLow{},
		keepAliveEnabled:       true,
		unresponsiveThreshold:  defaultUnresponsiveThreshold,
		reconnectionGrace:      ReconnectionGraceTime,
		reconnectionShortGrace: ReconnectionShortGraceTime,
		closeCh:                make(chan struct{}),
		onMessage:              eventutil.NewEmitter[[]byte](),
		onControlMessage:       eventutil.NewEmitter[[]byte](),
		onSocketClose:          eventutil.NewEmitter[socket.CloseEvent](),
		onSocketTimeout:        eventutil.NewEmitter[TimeoutEvent](),
		onDidDispose:           eventutil.NewEmitter[struct{}](),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.attachSocket(sock, true)
	go p.unresponsiveLoop()
	if p.keepAliveEnabled {
		go p.keepAliveLoop()
	}
	return p
}

// Observable event registration.
func (p *PersistentProtocol) OnMessage(l func([]byte)) func()               { return p.onMessage.On(l) }
func (p *PersistentProtocol) OnControlMessage(l func([]byte)) func()        { return p.onControlMessage.On(l) }
func (p *PersistentProtocol) OnSocketClose(l func(socket.CloseEvent)) func() { return p.onSocketClose.On(l) }
func (p *PersistentProtocol) OnSocketTimeout(l func(TimeoutEvent)) func()    { return p.onSocketTimeout.On(l) }
func (p *PersistentProtocol) OnDidDispose(l func()) func() {
	return p.onDidDispose.On(func(struct{}) { l() })
}

// Send assigns the next outgoing Regular id, appends it to the unacked
// queue, and (unless a reconnection is currently being spliced in) writes
// it immediately.
func (p *PersistentProtocol) Send(payload []byte) error {
	p.mu.Lock()
	p.nextOutID++
	msg := &wire.Message{Type: wire.TypeRegular, ID: p.nextOutID, Ack: p.nextInID, Payload: payload}
	p.unackQueue = append(p.unackQueue, msg)
	reconnecting := p.isReconnecting
	writer := p.writer
	if !reconnecting {
		// The frame's ack field carries nextInID, so it stands in for the
		// dedicated Ack armAckTimerLocked would otherwise send.
		p.lastAckSentAt = p.nextInID
	}
	p.mu.Unlock()

	if reconnecting {
		return nil
	}
	msg.WrittenTime = time.Now()
	return writer.Write(msg)
}

// SendControl writes a Control-type special frame; it is not subject to
// the unacked-queue/replay machinery.
func (p *PersistentProtocol) SendControl(payload []byte) error {
	p.mu.Lock()
	writer, ack := p.writer, p.nextInID
	p.mu.Unlock()
	return writer.Write(&wire.Message{Type: wire.TypeControl, Ack: ack, Payload: payload})
}

// Pause/Resume forward to the current L1 writer (SPEC_FULL Pause/Resume
// special frames).
func (p *PersistentProtocol) Pause() error {
	p.mu.Lock()
	writer, ack := p.writer, p.nextInID
	p.mu.Unlock()
	return writer.Write(&wire.Message{Type: wire.TypePause, Ack: ack})
}

func (p *PersistentProtocol) Resume() error {
	p.mu.Lock()
	writer, ack := p.writer, p.nextInID
	p.mu.Unlock()
	return writer.Write(&wire.Message{Type: wire.TypeResume, Ack: ack})
}

// attachSocket wires a new transport's OnData/OnClose/OnEnd into a fresh
// Reader/Writer pair and makes it current. initial is true only for the
// very first socket; on reconnection callers must hold no lock when
// calling this (it takes mu itself).
func (p *PersistentProtocol) attachSocket(sock socket.Socket, initial bool) {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}

	for _, unreg := range p.unregisterFns {
		unreg()
	}
	p.unregisterFns = nil

	reader := NewReader(p.log)
	reader.OnMessage(p.onReaderMessage)

	startID := p.nextOutID + 1
	if len(p.unackQueue) > 0 {
		startID = p.unackQueue[0].ID
	}
	writer := NewWriter(sock, p.log)
	writer.SetNextExpectedID(startID)

	p.sock = sock
	p.reader = reader
	p.writer = writer
	if !initial {
		p.isReconnecting = true
		p.hadReconnection = true
	}
	p.mu.Unlock()

	unregData := sock.OnData(func(chunk []byte) {
		p.mu.Lock()
		current := gen == p.generation
		r := p.reader
		p.mu.Unlock()
		if current {
			r.AcceptChunk(chunk)
		}
	})
	unregEnd := sock.OnEnd(func() {})
	unregClose := sock.OnClose(func(ev socket.CloseEvent) {
		p.mu.Lock()
		current := gen == p.generation
		p.mu.Unlock()
		if current {
			p.onSocketClose.Emit(ev)
			p.startReconnectionGraceTimer(gen)
		}
	})

	p.mu.Lock()
	p.unregisterFns = append(p.unregisterFns, unregData, unregEnd, unregClose)
	p.mu.Unlock()

	sock.StartReceiving()
}

// startReconnectionGraceTimer begins counting down how long this
// protocol tolerates its socket staying closed before giving up and
// disposing itself. gen is the generation that was current when the
// socket closed; if attachSocket has since spliced in a replacement (or
// the protocol disposed for another reason) the timer is a no-op.
func (p *PersistentProtocol) startReconnectionGraceTimer(gen uint64) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	grace := p.reconnectionGrace
	if p.hadReconnection {
		grace = p.reconnectionShortGrace
	}
	p.graceTimer = time.AfterFunc(grace, func() {
		p.mu.Lock()
		stale := gen != p.generation || p.disposed
		p.mu.Unlock()
		if !stale {
			p.Dispose()
		}
	})
	p.mu.Unlock()
}

// BeginAcceptReconnection splices newSock in as the live transport. Any
// bytes already read off newSock by the caller before handing it over are
// passed as leftover. Messages sent via Send during the window between
// this call and EndAcceptReconnection are queued in unackQueue but not
// written.
func (p *PersistentProtocol) BeginAcceptReconnection(newSock socket.Socket, leftover []byte) {
	p.mu.Lock()
	oldWriter := p.writer
	p.mu.Unlock()
	oldWriter.Dispose()

	p.attachSocket(newSock, false)

	if len(leftover) > 0 {
		p.mu.Lock()
		r := p.reader
		p.mu.Unlock()
		r.AcceptChunk(leftover)
	}
}

// EndAcceptReconnection sends an explicit ack for everything received so
// far, then rewrites every entry of unackQueue through the new writer in
// order, and finally clears the reconnecting flag so subsequent Send
// calls write immediately again.
func (p *PersistentProtocol) EndAcceptReconnection() error {
	p.mu.Lock()
	writer := p.writer
	ack := p.nextInID
	queue := make([]*wire.Message, len(p.unackQueue))
	copy(queue, p.unackQueue)
	p.mu.Unlock()

	if err := writer.Write(&wire.Message{Type: wire.TypeAck, Ack: ack}); err != nil {
		return err
	}
	for _, m := range queue {
		m.WrittenTime = time.Now()
		if err := writer.Write(m); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.isReconnecting = false
	p.mu.Unlock()
	return nil
}

// onReaderMessage is the Reader's single listener: it applies the ack
// field, then dispatches by message type. It always releases mu before
// emitting any public event so a listener is free to call back into p
// (e.g. Send from inside OnMessage) without deadlocking.
func (p *PersistentProtocol) onReaderMessage(msg *wire.Message) {
	p.mu.Lock()
	p.advanceAckLocked(msg.Ack)
	p.lastIncomingMsgTime = time.Now()

	switch msg.Type {
	case wire.TypeRegular:
		p.handleRegularLocked(msg)
		return
	case wire.TypeControl:
		payload := msg.Payload
		p.mu.Unlock()
		p.onControlMessage.Emit(payload)
		return
	case wire.TypeAck:
		p.mu.Unlock()
		return
	case wire.TypeDisconnect:
		p.mu.Unlock()
		p.Dispose()
		return
	case wire.TypeReplayRequest:
		writer := p.writer
		queue := make([]*wire.Message, len(p.unackQueue))
		copy(queue, p.unackQueue)
		if len(queue) > 0 {
			// The writer has already emitted these ids; rewind it so the
			// rewritten frames go out again instead of waiting behind its
			// nextExpectedID.
			writer.SetNextExpectedID(queue[0].ID)
		}
		p.mu.Unlock()
		for _, m := range queue {
			m.WrittenTime = time.Now()
			_ = writer.Write(m)
		}
		return
	case wire.TypePause:
		writer := p.writer
		p.mu.Unlock()
		writer.Pause()
		return
	case wire.TypeResume:
		writer := p.writer
		p.mu.Unlock()
		writer.Resume()
		return
	case wire.TypeKeepAlive:
		p.mu.Unlock()
		return
	default:
		p.mu.Unlock()
		return
	}
}

// advanceAckLocked pops every unackQueue entry with id<=ack. mu held.
func (p *PersistentProtocol) advanceAckLocked(ack uint32) {
	n := 0
	for n < len(p.unackQueue) && p.unackQueue[n].ID <= ack {
		n++
	}
	if n > 0 {
		p.unackQueue = p.unackQueue[n:]
	}
}

// handleRegularLocked implements in-order acceptance, gap-triggered
// ReplayRequest (debounced), and duplicate suppression. mu is held on
// entry and always released before returning.
func (p *PersistentProtocol) handleRegularLocked(msg *wire.Message) {
	switch {
	case msg.ID == p.nextInID+1:
		p.nextInID = msg.ID
		p.armAckTimerLocked()
		payload := msg.Payload
		p.mu.Unlock()
		p.onMessage.Emit(payload)

	case msg.ID > p.nextInID+1:
		debounced := time.Since(p.lastReplayRequestAt) < ReplayRequestDebounce
		if debounced {
			p.mu.Unlock()
			return
		}
		p.lastReplayRequestAt = time.Now()
		writer, ack := p.writer, p.nextInID
		p.mu.Unlock()
		_ = writer.Write(&wire.Message{Type: wire.TypeReplayRequest, Ack: ack})

	default:
		// msg.ID <= nextInID: a duplicate delivered by a replay or a
		// retransmit racing the original; already delivered, drop.
		p.mu.Unlock()
	}
}

// armAckTimerLocked schedules a dedicated Ack frame after AcknowledgeTime
// unless an outgoing Regular frame (or an earlier timer run) has carried
// nextInID in its ack field by then. mu held on entry.
func (p *PersistentProtocol) armAckTimerLocked() {
	if p.ackTimerArmed {
		return
	}
	p.ackTimerArmed = true
	go func() {
		time.Sleep(AcknowledgeTime)
		p.mu.Lock()
		p.ackTimerArmed = false
		if p.nextInID == p.lastAckSentAt {
			p.mu.Unlock()
			return
		}
		writer, ack := p.writer, p.nextInID
		p.lastAckSentAt = ack
		p.mu.Unlock()
		_ = writer.Write(&wire.Message{Type: wire.TypeAck, Ack: ack})
	}()
}

// keepAliveLoop periodically emits a KeepAlive special frame so the peer's
// unresponsiveness detector sees socket activity even on an idle link.
func (p *PersistentProtocol) keepAliveLoop() {
	ticker := time.NewTicker(KeepAliveSendTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			writer, ack := p.writer, p.nextInID
			p.mu.Unlock()
			_ = writer.Write(&wire.Message{Type: wire.TypeKeepAlive, Ack: ack})
		case <-p.closeCh:
			return
		}
	}
}

// unresponsiveLoop implements the §4.4 diagnostic timeout detector: fires
// OnSocketTimeout when the oldest unacked message, the most recent socket
// read, and the most recent prior timeout declaration are all older than
// unresponsiveThreshold at once, and the load estimator does not attribute
// the silence to local load.
func (p *PersistentProtocol) unresponsiveLoop() {
	timer := time.NewTimer(p.unresponsiveThreshold)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			next := p.checkUnresponsive()
			timer.Reset(next)
		case <-p.closeCh:
			return
		}
	}
}

func (p *PersistentProtocol) checkUnresponsive() time.Duration {
	p.mu.Lock()
	threshold := p.unresponsiveThreshold
	if len(p.unackQueue) == 0 {
		p.mu.Unlock()
		return threshold
	}
	oldest := p.unackQueue[0].WrittenTime
	lastRx := p.lastIncomingMsgTime
	lastTimeout := p.lastTimeoutAt
	unackCount := len(p.unackQueue)
	p.mu.Unlock()

	now := time.Now()
	tMsg := elapsedSince(now, oldest, threshold)
	tRx := elapsedSince(now, lastRx, threshold)
	tTo := elapsedSince(now, lastTimeout, threshold)

	if tMsg > threshold && tRx > threshold && tTo > threshold && !p.loadEstimator.HasHighLoad() {
		p.mu.Lock()
		p.lastTimeoutAt = now
		p.mu.Unlock()
		p.onSocketTimeout.Emit(TimeoutEvent{
			UnacknowledgedCount: unackCount,
			TimeSinceOldestMsg:  tMsg,
			TimeSinceLastRx:     tRx,
		})
		return threshold
	}

	longest := tMsg
	if tRx > longest {
		longest = tRx
	}
	if tTo > longest {
		longest = tTo
	}
	remaining := threshold - longest
	if remaining < minUnresponsiveRecheck {
		remaining = minUnresponsiveRecheck
	}
	return remaining
}

func elapsedSince(now, t time.Time, threshold time.Duration) time.Duration {
	if t.IsZero() {
		return threshold + time.Second
	}
	return now.Sub(t)
}

// Dispose tears down timers and fires OnDidDispose exactly once. It does
// not close the underlying socket; ownership of the transport's lifecycle
// stays with whoever constructed it.
func (p *PersistentProtocol) Dispose() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.disposed = true
		writer := p.writer
		if p.graceTimer != nil {
			p.graceTimer.Stop()
		}
		p.mu.Unlock()
		close(p.closeCh)
		writer.Dispose()
		p.onDidDispose.Emit(struct{}{})
	})
}

// unackQueueIDs returns the ids in queue in ascending order; a small
// debugging helper.
func unackQueueIDs(queue []*wire.Message) []uint32 {
	ids := make([]uint32, len(queue))
	for i, m := range queue {
		ids[i] = m.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
