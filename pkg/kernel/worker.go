package kernel

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/mwojnars/schemat-sub000/pkg/ipc"
	"github.com/mwojnars/schemat-sub000/pkg/mailbox"
)

// WorkerKernel is the worker-process variant of Kernel (spec §4.7): it
// opens a single IPC channel back to the parent master instead of
// spawning anything of its own.
type WorkerKernel struct {
	*Kernel

	id  int
	ipc *ipc.Channel
}

// NewWorker constructs a WorkerKernel for the given 1-based worker id
// (supplied to the process via the WORKER_ID environment variable per
// spec §4.7).
func NewWorker(id int, loader AgentLoader, log zerolog.Logger) *WorkerKernel {
	return &WorkerKernel{
		Kernel: New(loader, log.With().Str("role", "$worker").Int("worker", id).Logger()),
		id:     id,
	}
}

// ID returns this worker's 1-based index.
func (wk *WorkerKernel) ID() int { return wk.id }

// AttachIPC opens the IPC channel to the parent master over r/w
// (typically os.Stdin/os.Stdout), wiring handler as the callback for
// requests arriving from the master.
func (wk *WorkerKernel) AttachIPC(r io.Reader, w io.Writer, handler mailbox.Handler) {
	wk.ipc = ipc.New(r, w, handler, 0)
}

// IPC returns the channel to the parent master, if attached.
func (wk *WorkerKernel) IPC() *ipc.Channel { return wk.ipc }
