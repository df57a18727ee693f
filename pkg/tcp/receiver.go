package tcp

import (
	"encoding/json"
	"net"

	"github.com/mwojnars/schemat-sub000/pkg/log"
	"github.com/mwojnars/schemat-sub000/pkg/rpc"
	"github.com/rs/zerolog"
)

// Handler processes one incoming message body and returns the value to
// acknowledge back to the sender.
type Handler func(msg json.RawMessage) (any, error)

// Receiver listens for incoming node connections and serves requests
// with duplicate suppression per connection (spec §4.2).
type Receiver struct {
	listener net.Listener
	handler  Handler
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// Listen starts a Receiver bound to address.
func Listen(address string, handler Handler) (*Receiver, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	r := &Receiver{
		listener: ln,
		handler:  handler,
		logger:   log.WithComponent("tcp-receiver"),
		stopCh:   make(chan struct{}),
	}
	go r.acceptLoop()
	return r, nil
}

// Addr returns the bound listen address.
func (r *Receiver) Addr() net.Addr { return r.listener.Addr() }

func (r *Receiver) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
				r.logger.Error().Err(err).Msg("accept failed")
				return
			}
		}
		go r.serve(conn)
	}
}

func (r *Receiver) serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	var highest int64

	for {
		var req wireRequest
		if err := dec.Decode(&req); err != nil {
			return
		}

		if req.ID <= highest {
			// Duplicate: re-acknowledge without re-executing.
			_ = enc.Encode(wireResponse{ID: req.ID})
			continue
		}
		highest = req.ID

		result, err := r.handler(req.Msg)
		if err != nil {
			_ = enc.Encode(wireResponse{ID: req.ID, Err: rpc.Encode(err)})
			continue
		}
		b, merr := json.Marshal(result)
		if merr != nil {
			_ = enc.Encode(wireResponse{ID: req.ID, Err: rpc.Encode(merr)})
			continue
		}
		raw := json.RawMessage(b)
		_ = enc.Encode(wireResponse{ID: req.ID, Result: &raw})
	}
}

// Close stops accepting new connections.
func (r *Receiver) Close() error {
	close(r.stopCh)
	return r.listener.Close()
}
