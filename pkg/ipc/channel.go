package ipc

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/mwojnars/schemat-sub000/pkg/log"
	"github.com/mwojnars/schemat-sub000/pkg/mailbox"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the mailbox request timeout used when a caller
// does not override it.
const DefaultTimeout = 10 * time.Second

// Channel is a bidirectional IPC message channel wrapping a Mailbox.
// r/w are typically a child process's Stdout/Stdin (from the parent's
// side) or os.Stdin/os.Stdout (from the child's side).
type Channel struct {
	mb     *mailbox.Mailbox
	w      io.Writer
	writeMu sync.Mutex
	logger zerolog.Logger
}

// New wires a Channel over r/w. handler processes requests and
// notifications arriving from the peer.
func New(r io.Reader, w io.Writer, handler mailbox.Handler, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Channel{w: w, logger: log.WithComponent("ipc")}
	c.mb = mailbox.New(c.writeFrame, handler, timeout)
	go c.readLoop(r)
	return c
}

func (c *Channel) writeFrame(f mailbox.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(b)
	return err
}

func (c *Channel) readLoop(r io.Reader) {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var f mailbox.Frame
			if jerr := json.Unmarshal(line, &f); jerr != nil {
				c.logger.Error().Err(jerr).Msg("failed to decode ipc frame")
			} else {
				c.mb.Deliver(f)
			}
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Error().Err(err).Msg("ipc channel read failed")
			}
			return
		}
	}
}

// Mailbox exposes the underlying Mailbox for Send/Notify.
func (c *Channel) Mailbox() *mailbox.Mailbox { return c.mb }

// Close stops the channel's mailbox sweeper.
func (c *Channel) Close() error { return c.mb.Close() }
