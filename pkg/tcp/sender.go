package tcp

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/mwojnars/schemat-sub000/pkg/log"
	"github.com/mwojnars/schemat-sub000/pkg/metrics"
	"github.com/mwojnars/schemat-sub000/pkg/rpc"
	"github.com/rs/zerolog"
)

// DefaultRetryInterval is how often an unacknowledged message is
// resent to its destination.
const DefaultRetryInterval = 2 * time.Second

// DefaultDialTimeout bounds establishing a new connection on demand.
const DefaultDialTimeout = 5 * time.Second

// wireRequest is the sender's outbound frame, {"id":n,"msg":...}.
type wireRequest struct {
	ID  int64           `json:"id"`
	Msg json.RawMessage `json:"msg"`
}

// wireResponse is the frame a Receiver writes back. A nil Result with
// a nil Err is the ack-only duplicate response ({"id":n}).
type wireResponse struct {
	ID     int64            `json:"id"`
	Result *json.RawMessage `json:"result,omitempty"`
	Err    *rpc.Error       `json:"err,omitempty"`
}

// Result is what Sender.Send resolves to.
type Result struct {
	Value json.RawMessage
	Err   error
}

type pendingSend struct {
	address  string
	frame    wireRequest
	resultCh chan Result
	lastSent time.Time
	done     bool
}

// Sender maintains one persistent connection per destination address
// and retries unacknowledged messages until a response arrives.
type Sender struct {
	mu      sync.Mutex
	conns   map[string]net.Conn
	pending map[int64]*pendingSend
	nextID  int64

	retryInterval time.Duration
	dialTimeout   time.Duration

	stopCh chan struct{}
	logger zerolog.Logger
}

// NewSender creates a Sender with the given retry cadence and dial
// timeout (zero values use the package defaults).
func NewSender(retryInterval, dialTimeout time.Duration) *Sender {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	s := &Sender{
		conns:         make(map[string]net.Conn),
		pending:       make(map[int64]*pendingSend),
		retryInterval: retryInterval,
		dialTimeout:   dialTimeout,
		stopCh:        make(chan struct{}),
		logger:        log.WithComponent("tcp-sender"),
	}
	go s.retryLoop()
	return s
}

// Send writes payload to address and blocks until acknowledged or ctx
// is canceled. Retries transparently on the background retry loop.
func (s *Sender) Send(ctx context.Context, address string, payload json.RawMessage) (Result, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	entry := &pendingSend{
		address:  address,
		frame:    wireRequest{ID: id, Msg: payload},
		resultCh: make(chan Result, 1),
		lastSent: time.Now(),
	}
	s.pending[id] = entry
	s.mu.Unlock()

	if err := s.writeFrame(address, entry.frame); err != nil {
		s.logger.Debug().Err(err).Str("address", address).Msg("initial send failed, will retry")
	}

	select {
	case res := <-entry.resultCh:
		return res, res.Err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return Result{}, rpc.NewError(rpc.KindTimeout, "tcp send canceled before acknowledgement")
	}
}

func (s *Sender) getConn(address string) (net.Conn, error) {
	s.mu.Lock()
	if c, ok := s.conns[address]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	conn, err := net.DialTimeout("tcp", address, s.dialTimeout)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.conns[address]; ok {
		s.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	s.conns[address] = conn
	s.mu.Unlock()

	go s.readLoop(address, conn)
	return conn, nil
}

func (s *Sender) dropConn(address string, conn net.Conn) {
	s.mu.Lock()
	if c, ok := s.conns[address]; ok && c == conn {
		delete(s.conns, address)
	}
	s.mu.Unlock()
}

func (s *Sender) writeFrame(address string, frame wireRequest) error {
	conn, err := s.getConn(address)
	if err != nil {
		return err
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		s.dropConn(address, conn)
		return err
	}
	return nil
}

func (s *Sender) readLoop(address string, conn net.Conn) {
	dec := json.NewDecoder(conn)
	for {
		var resp wireResponse
		if err := dec.Decode(&resp); err != nil {
			s.dropConn(address, conn)
			_ = conn.Close()
			return
		}
		s.resolve(resp)
	}
}

func (s *Sender) resolve(resp wireResponse) {
	s.mu.Lock()
	entry, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	var res Result
	if resp.Err != nil {
		res.Err = rpc.Wrap(rpc.KindRPC, "error processing request", resp.Err)
	} else if resp.Result != nil {
		res.Value = *resp.Result
	}
	entry.resultCh <- res
}

func (s *Sender) retryLoop() {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.retryPending()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sender) retryPending() {
	now := time.Now()
	s.mu.Lock()
	var toRetry []*pendingSend
	for _, e := range s.pending {
		if now.Sub(e.lastSent) >= s.retryInterval {
			e.lastSent = now
			toRetry = append(toRetry, e)
		}
	}
	s.mu.Unlock()

	for _, e := range toRetry {
		metrics.TCPRetriesTotal.Inc()
		if err := s.writeFrame(e.address, e.frame); err != nil {
			s.logger.Debug().Err(err).Str("address", e.address).Int64("id", e.frame.ID).Msg("retry send failed")
		}
	}
}

// Close stops the retry loop and closes all connections.
func (s *Sender) Close() error {
	close(s.stopCh)
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, c := range s.conns {
		_ = c.Close()
		delete(s.conns, addr)
	}
	return nil
}
