package kernel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mwojnars/schemat-sub000/pkg/ipc"
	"github.com/mwojnars/schemat-sub000/pkg/mailbox"
)

// WorkerProcess is a spawned worker child and the IPC channel the
// master uses to reach it.
type WorkerProcess struct {
	ID  int
	Cmd *exec.Cmd
	IPC *ipc.Channel
}

// MasterKernel is the master-process variant of Kernel: it additionally
// spawns and supervises the fixed pool of worker processes and drives
// the initial-agents bootstrap (spec §4.7).
type MasterKernel struct {
	*Kernel

	mu      sync.RWMutex
	workers map[int]*WorkerProcess

	nextRoundRobin int
}

// NewMaster constructs a MasterKernel.
func NewMaster(loader AgentLoader, log zerolog.Logger) *MasterKernel {
	return &MasterKernel{
		Kernel:  New(loader, log.With().Str("role", "$master").Logger()),
		workers: make(map[int]*WorkerProcess),
	}
}

// SpawnWorkers launches n worker child processes (binary, identified
// via the WORKER_ID environment variable, 1-based per spec §4.7), each
// wired to an IPC mailbox whose handler is produced by makeHandler.
func (mk *MasterKernel) SpawnWorkers(ctx context.Context, n int, binary string, args []string, makeHandler func(workerID int) mailbox.Handler) error {
	for id := 1; id <= n; id++ {
		if err := mk.spawnOne(ctx, id, binary, args, makeHandler(id)); err != nil {
			return fmt.Errorf("kernel: spawn worker %d: %w", id, err)
		}
	}
	return nil
}

func (mk *MasterKernel) spawnOne(ctx context.Context, id int, binary string, args []string, handler mailbox.Handler) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("WORKER_ID=%d", id))
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	wp := &WorkerProcess{ID: id, Cmd: cmd, IPC: ipc.New(stdout, stdin, handler, 0)}

	mk.mu.Lock()
	mk.workers[id] = wp
	mk.mu.Unlock()

	go mk.watch(id, cmd)
	return nil
}

// watch waits for a worker's process to exit. Any exit is fatal to the
// node: the master hard-exits rather than limp along with a missing
// placement. There is no exception for an exit during shutdown; a
// worker that exits while the master is shutting down also triggers
// the hard exit.
func (mk *MasterKernel) watch(id int, cmd *exec.Cmd) {
	err := cmd.Wait()
	mk.Kernel.log.Fatal().Err(err).Int("worker", id).Msg("worker process exited, node is unrecoverable")
	os.Exit(1)
}

// Worker returns the handle for a spawned worker, if any.
func (mk *MasterKernel) Worker(id int) (*WorkerProcess, bool) {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	wp, ok := mk.workers[id]
	return wp, ok
}

// NumWorkers returns how many worker processes are spawned.
func (mk *MasterKernel) NumWorkers() int {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return len(mk.workers)
}

// BootstrapPlacement is one declared initial-agents entry (spec §6's
// bootstrap manifest).
type BootstrapPlacement struct {
	AgentID int64
	Role    string
	Worker  int // 1-based; out of [1,numWorkers] selects round-robin
}

// BootstrapAgents drives _start_agents(initialAgents): for every
// declared placement, resolves its worker (round-robin into the valid
// range if the declared index is out of bounds) and calls dispatch,
// which a caller wires to `node.$worker({worker})._start_agent(id, role)`.
func (mk *MasterKernel) BootstrapAgents(placements []BootstrapPlacement, dispatch func(worker int, agentID int64, role string) error) error {
	numWorkers := mk.NumWorkers()
	if numWorkers == 0 {
		return fmt.Errorf("kernel: cannot bootstrap agents, no workers spawned")
	}

	for _, p := range placements {
		worker := p.Worker
		if worker < 1 || worker > numWorkers {
			mk.mu.Lock()
			mk.nextRoundRobin++
			worker = ((mk.nextRoundRobin - 1) % numWorkers) + 1
			mk.mu.Unlock()
		}
		if err := dispatch(worker, p.AgentID, p.Role); err != nil {
			return fmt.Errorf("kernel: bootstrap agent %d/%s onto worker %d: %w", p.AgentID, p.Role, worker, err)
		}
	}
	return nil
}
