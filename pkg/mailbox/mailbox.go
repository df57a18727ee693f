package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mwojnars/schemat-sub000/pkg/log"
	"github.com/mwojnars/schemat-sub000/pkg/rpc"
	"github.com/rs/zerolog"
)

// maxCorrelationID is the wrap-around boundary for correlation ids
// (2^53-1, the largest integer a JSON number round-trips exactly).
const maxCorrelationID = (int64(1) << 53) - 1

// Frame is the wire shape of a single mailbox message: [id, msg, err?]
// informally in spec §4.1, realized here as a JSON object so it can
// ride directly inside the TCP/IPC object framing of spec §6.
type Frame struct {
	ID     int64            `json:"id"`
	Msg    json.RawMessage  `json:"msg,omitempty"`
	Result *json.RawMessage `json:"result,omitempty"`
	Err    *rpc.Error       `json:"err,omitempty"`
}

// Result is what a Send's future resolves with. HasValue distinguishes
// a response with no "result" field (valid, "no value") from one
// carrying an explicit JSON null.
type Result struct {
	Value    json.RawMessage
	HasValue bool
	Err      error
}

// Handler processes an incoming request or notification payload and
// returns the value to send back (ignored for notifications).
type Handler func(payload json.RawMessage) (any, error)

type pendingEntry struct {
	resultCh chan Result
	sentAt   time.Time
	payload  json.RawMessage
}

// Mailbox is a correlated request/response layer over a bidirectional
// byte channel, realized here as a pluggable write function so both
// the IPC transport (an in-process pipe) and tests (an in-memory loop)
// can drive it.
type Mailbox struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingEntry
	closed  bool

	write   func(Frame) error
	handler Handler
	timeout time.Duration

	sweepStop chan struct{}
	logger    zerolog.Logger
}

// New creates a Mailbox. write is invoked to deliver an outgoing frame
// (e.g. write to the child process pipe); handler processes frames
// this mailbox receives from the peer. timeout bounds both how long a
// Send waits for a reply and the sweeper's cadence.
func New(write func(Frame) error, handler Handler, timeout time.Duration) *Mailbox {
	m := &Mailbox{
		pending:   make(map[int64]*pendingEntry),
		write:     write,
		handler:   handler,
		timeout:   timeout,
		sweepStop: make(chan struct{}),
		logger:    log.WithComponent("mailbox"),
	}
	go m.sweep()
	return m
}

// Send assigns the next correlation id, writes the frame, and blocks
// until the peer's response arrives, the mailbox's timeout elapses, or
// ctx is canceled.
func (m *Mailbox) Send(ctx context.Context, payload json.RawMessage) (Result, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{}, rpc.NewError(rpc.KindFatal, "mailbox closed")
	}
	id := m.nextCorrelationID()
	entry := &pendingEntry{
		resultCh: make(chan Result, 1),
		sentAt:   time.Now(),
		payload:  payload,
	}
	m.pending[id] = entry
	m.mu.Unlock()

	if err := m.write(Frame{ID: id, Msg: payload}); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return Result{}, rpc.Wrap(rpc.KindIPC, "failed to send message", err)
	}

	select {
	case res := <-entry.resultCh:
		return res, res.Err
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return Result{}, rpc.NewError(rpc.KindTimeout, fmt.Sprintf("response timeout for message %d", id))
	}
}

// Notify writes a fire-and-forget message (id=0) and never awaits a
// reply.
func (m *Mailbox) Notify(payload json.RawMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return rpc.NewError(rpc.KindFatal, "mailbox closed")
	}
	m.mu.Unlock()
	return m.write(Frame{ID: 0, Msg: payload})
}

func (m *Mailbox) nextCorrelationID() int64 {
	m.nextID++
	if m.nextID > maxCorrelationID {
		m.nextID = 1
	}
	return m.nextID
}

// Deliver processes one incoming frame per spec §4.1's three cases.
func (m *Mailbox) Deliver(f Frame) {
	switch {
	case f.ID > 0:
		go m.serve(f)
	case f.ID == 0:
		go func() {
			if _, err := m.handler(f.Msg); err != nil {
				m.logger.Error().Err(err).Msg("notification handler failed")
			}
		}()
	default: // f.ID < 0: a response
		m.resolve(-f.ID, f)
	}
}

func (m *Mailbox) serve(f Frame) {
	result, err := m.handler(f.Msg)
	if err != nil {
		_ = m.write(Frame{ID: -f.ID, Err: rpc.Wrap(rpc.KindRPC, "error processing request", err)})
		return
	}
	var resultMsg *json.RawMessage
	if result != nil {
		b, merr := json.Marshal(result)
		if merr != nil {
			_ = m.write(Frame{ID: -f.ID, Err: rpc.Wrap(rpc.KindRPC, "error processing request", merr)})
			return
		}
		raw := json.RawMessage(b)
		resultMsg = &raw
	} else {
		raw := json.RawMessage("null")
		resultMsg = &raw
	}
	_ = m.write(Frame{ID: -f.ID, Result: resultMsg})
}

func (m *Mailbox) resolve(id int64, f Frame) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return // late response to an already-timed-out or unknown send
	}

	var res Result
	if f.Err != nil {
		res.Err = rpc.Wrap(rpc.KindRPC, "error processing request", f.Err)
	} else {
		res.HasValue = f.Result != nil
		if res.HasValue {
			res.Value = *f.Result
		}
	}
	entry.resultCh <- res
}

func (m *Mailbox) sweep() {
	ticker := time.NewTicker(m.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.rejectStale()
		case <-m.sweepStop:
			return
		}
	}
}

func (m *Mailbox) rejectStale() {
	now := time.Now()
	m.mu.Lock()
	var stale []struct {
		id    int64
		entry *pendingEntry
	}
	for id, e := range m.pending {
		if now.Sub(e.sentAt) >= m.timeout {
			stale = append(stale, struct {
				id    int64
				entry *pendingEntry
			}{id, e})
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.entry.resultCh <- Result{
			Err: rpc.NewError(rpc.KindTimeout, fmt.Sprintf("response timeout for message %d", s.id)),
		}
	}
}

// Pending returns the number of in-flight Send calls awaiting a
// result, for metrics collection.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close stops the timeout sweeper. Pending futures are not force-
// rejected here; they are left to resolve, time out via the sweeper's
// last tick, or be abandoned by the caller (spec §4.1).
func (m *Mailbox) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.sweepStop)
	return nil
}
