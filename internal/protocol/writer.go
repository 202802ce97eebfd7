package protocol

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/stepherg/vshostbridge/internal/socket"
	"github.com/stepherg/vshostbridge/internal/wire"
)

// ErrWriterDisposed is returned by Write once the writer has failed a
// socket write and marked itself disposed.
var ErrWriterDisposed = errors.New("protocol: writer disposed")

// stallCheckInterval is how often the diagnostic stall detector runs.
const stallCheckInterval = 5 * time.Second

// Writer enforces the outer-frame ordering contract: after filtering for
// TypeRegular, frames reach the socket with ascending, gap-free ids
// starting at 1. Special (non-Regular) frames interleave freely and are
// emitted as soon as they are seen. All queue bookkeeping happens under
// mu; the actual socket.Write call happens on a local snapshot outside
// the lock so a slow transport never blocks Write's callers against each
// other for longer than necessary.
type Writer struct {
	sock socket.Socket
	log  logr.Logger

	mu             sync.Mutex
	messageQueue   map[uint32][]byte
	specialQueue   [][]byte
	nextExpectedID uint32
	paused         bool
	disposed       bool

	stallDone chan struct{}
}

// NewWriter constructs a Writer bound to sock. Call Dispose to stop its
// background stall-detection timer.
func NewWriter(sock socket.Socket, log logr.Logger) *Writer {
	w := &Writer{
		sock:           sock,
		log:            log.WithValues("component", "protocol.Writer"),
		messageQueue:   make(map[uint32][]byte),
		nextExpectedID: 1,
		stallDone:      make(chan struct{}),
	}
	go w.stallLoop()
	return w
}

// Write enqueues msg and attempts to flush the socket. Regular messages
// with id 0 are rejected: id 0 is reserved for the special-message path
// (see SPEC_FULL.md Open Question 1).
func (w *Writer) Write(msg *wire.Message) error {
	if msg.Type == wire.TypeRegular && msg.ID == 0 {
		return fmt.Errorf("protocol: regular message with id=0 is not allowed")
	}
	frame := wire.Encode(msg)

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return ErrWriterDisposed
	}
	if msg.Type.IsSpecial() {
		w.specialQueue = append(w.specialQueue, frame)
	} else {
		w.messageQueue[msg.ID] = frame
	}
	w.mu.Unlock()

	return w.Flush()
}

// Flush synchronously performs one emit pass: special frames plus any
// contiguous run starting at nextExpectedID are concatenated and written
// to the socket in one call. If paused, Flush is a no-op (messages stay
// queued).
func (w *Writer) Flush() error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return ErrWriterDisposed
	}
	if w.paused {
		w.mu.Unlock()
		return nil
	}
	blob := w.extractLocked()
	w.mu.Unlock()

	if len(blob) == 0 {
		return nil
	}
	if err := w.sock.Write(blob); err != nil {
		w.mu.Lock()
		w.disposed = true
		w.mu.Unlock()
		return err
	}
	return nil
}

// extractLocked must be called with mu held. It pops the special queue
// and any contiguous run of regular messages starting at nextExpectedID,
// concatenating their frames. The writer keeps no record of extracted
// frames and never touches WrittenTime (PersistentProtocol sets it before
// calling Write); a Write that returns nil may have left its frame queued
// behind a missing id.
func (w *Writer) extractLocked() []byte {
	var blob []byte
	for _, f := range w.specialQueue {
		blob = append(blob, f...)
	}
	w.specialQueue = nil

	for {
		f, ok := w.messageQueue[w.nextExpectedID]
		if !ok {
			break
		}
		blob = append(blob, f...)
		delete(w.messageQueue, w.nextExpectedID)
		w.nextExpectedID++
	}
	if len(w.messageQueue) > 0 {
		w.log.V(1).Info("waiting for contiguous id", "nextExpectedId", w.nextExpectedID, "queued", len(w.messageQueue))
	}
	return blob
}

// SetNextExpectedID overrides the id the writer will next emit. Used by
// PersistentProtocol when splicing in a replacement writer across a
// reconnection: the outgoing id sequence is global and must not reset to
// 1 just because the transport changed.
func (w *Writer) SetNextExpectedID(id uint32) {
	w.mu.Lock()
	w.nextExpectedID = id
	w.mu.Unlock()
}

// Pause suppresses further socket writes; queued and newly-written
// messages accumulate until Resume.
func (w *Writer) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume clears the pause flag and reschedules a flush.
func (w *Writer) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	_ = w.Flush()
}

// Drain flushes then waits for the socket's own backlog to clear.
func (w *Writer) Drain() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.sock.Drain()
}

// Dispose stops the background stall-detection timer. It does not touch
// queued messages; PersistentProtocol owns their lifetime via unackQueue.
func (w *Writer) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	w.mu.Unlock()
	close(w.stallDone)
}

func (w *Writer) stallLoop() {
	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.checkStall()
		case <-w.stallDone:
			return
		}
	}
}

func (w *Writer) checkStall() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.messageQueue) == 0 {
		return
	}
	if _, ok := w.messageQueue[w.nextExpectedID]; ok {
		return
	}
	ids := make([]uint32, 0, len(w.messageQueue))
	for id := range w.messageQueue {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	w.log.Info("writer stalled: expected id missing from queue",
		"nextExpectedId", w.nextExpectedID, "queuedIds", ids, "gapStart", w.nextExpectedID, "gapEnd", ids[0]-1)
}
