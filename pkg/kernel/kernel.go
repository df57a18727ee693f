package kernel

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwojnars/schemat-sub000/pkg/collections"
	"github.com/mwojnars/schemat-sub000/pkg/frame"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// AgentLoader materializes an Agent for a given (id, role), returning
// the same reference while the agent is unchanged so Frame.Restart's
// pointer-equality check can detect that nothing changed.
type AgentLoader interface {
	LoadAgent(id int64, role string) (types.Agent, error)
}

// Kernel is the common frame registry shared by the master and worker
// processes (spec §4.7). It implements frame.Host so a Frame can reload
// its agent and remove itself on stop without importing this package.
type Kernel struct {
	loader AgentLoader
	log    zerolog.Logger

	appCtx    context.Context
	appCancel context.CancelFunc

	mu      sync.RWMutex
	byFID   map[string]*frame.Frame
	byKey   *collections.KeyedMap[*frame.Frame]
	created []string // fids in creation order, for reverse-order shutdown
}

// New constructs a Kernel. The returned Kernel owns appCtx's lifetime:
// cancel it via Shutdown, not directly.
func New(loader AgentLoader, log zerolog.Logger) *Kernel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Kernel{
		loader:    loader,
		log:       log,
		appCtx:    ctx,
		appCancel: cancel,
		byFID:     make(map[string]*frame.Frame),
		byKey:     collections.NewKeyedMap[*frame.Frame](),
	}
}

// AppContext returns the context under which agent method bodies run;
// it is canceled once Shutdown has stopped every frame. Satisfies frame.Host.
func (k *Kernel) AppContext() context.Context { return k.appCtx }

// Reload delegates to the configured AgentLoader. Satisfies frame.Host.
func (k *Kernel) Reload(agentID int64, role string) (types.Agent, error) {
	return k.loader.LoadAgent(agentID, role)
}

// Unregister removes fid from the registry. Satisfies frame.Host.
func (k *Kernel) Unregister(fid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, ok := k.byFID[fid]
	if !ok {
		return
	}
	delete(k.byFID, fid)
	k.byKey.Delete(f.AgentID(), f.Role())
	for i, fid2 := range k.created {
		if fid2 == fid {
			k.created = append(k.created[:i], k.created[i+1:]...)
			break
		}
	}
}

// StartAgent loads (id, role), creates its Frame, registers it *before*
// calling Start (so a nested call made during start can find itself),
// and starts it (spec §4.7).
func (k *Kernel) StartAgent(ctx context.Context, fid string, id int64, role string) (*frame.Frame, error) {
	agent, err := k.loader.LoadAgent(id, role)
	if err != nil {
		return nil, fmt.Errorf("kernel: load agent %d/%s: %w", id, role, err)
	}

	f := frame.New(fid, id, role, agent, k, k.log)
	k.register(f)

	if err := f.Start(ctx); err != nil {
		k.Unregister(fid)
		return nil, err
	}
	return f, nil
}

func (k *Kernel) register(f *frame.Frame) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byFID[f.FID()] = f
	k.byKey.Set(f.AgentID(), f.Role(), f)
	k.created = append(k.created, f.FID())
}

// RefreshAgent re-checks whether fid's backing agent reference has
// changed and, if so, restarts the frame onto it (spec §4.7). The
// decision of *when* to call this for ttl-driven refresh is the
// Frame's own restart scheduler; this method exists for callers (e.g.
// a placement change) that need to force the check immediately.
func (k *Kernel) RefreshAgent(ctx context.Context, fid string) error {
	f, ok := k.Get(fid)
	if !ok {
		return fmt.Errorf("kernel: no frame %q", fid)
	}
	return f.Restart(ctx)
}

// StopAgent looks up the frame for (id, role), stops it, and removes it
// from the registry (spec §4.7). role == "" stops any role registered
// for id.
func (k *Kernel) StopAgent(ctx context.Context, id int64, role string) error {
	f, ok := k.FindByAgent(id, role)
	if !ok {
		return fmt.Errorf("kernel: no frame for agent %d/%q", id, role)
	}
	return f.Stop(ctx)
}

// Get returns the frame registered under fid.
func (k *Kernel) Get(fid string) (*frame.Frame, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	f, ok := k.byFID[fid]
	return f, ok
}

// FindByAgent returns any one frame for (id, role); role == "" matches
// any role and returns one of them even when several are registered —
// use FindAllByAgent to see every role.
func (k *Kernel) FindByAgent(id int64, role string) (*frame.Frame, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if role == "" {
		return k.byKey.GetAny(id)
	}
	return k.byKey.Get(id, role)
}

// FindAllByAgent returns every frame registered for id, across roles.
func (k *Kernel) FindAllByAgent(id int64) []*frame.Frame {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.byKey.GetAllRoles(id)
}

// Len returns the number of frames currently registered.
func (k *Kernel) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byFID)
}

// FrameCountsByState returns the number of registered frames in each
// lifecycle state, for metrics collection.
func (k *Kernel) FrameCountsByState() map[frame.State]int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	counts := make(map[frame.State]int)
	for _, f := range k.byFID {
		counts[f.State()]++
	}
	return counts
}

// Shutdown stops every registered frame in the reverse of its creation
// order (children before the parents that placed them), then cancels
// the application context. If the graceful window elapses first, it
// logs and hard-exits the process, matching the teacher's
// unrecoverable-shutdown posture for a stuck peer.
func (k *Kernel) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.stopAllReverse(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		k.log.Fatal().Msg("kernel: graceful shutdown timed out, exiting")
		os.Exit(1)
	}

	k.appCancel()
}

func (k *Kernel) stopAllReverse(ctx context.Context) {
	k.mu.RLock()
	order := make([]string, len(k.created))
	copy(order, k.created)
	k.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		f, ok := k.Get(order[i])
		if !ok {
			continue
		}
		if err := f.Stop(ctx); err != nil {
			k.log.Error().Err(err).Str("fid", order[i]).Msg("kernel: error stopping frame during shutdown")
		}
	}
}
