package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwojnars/schemat-sub000/pkg/atlas"
	"github.com/mwojnars/schemat-sub000/pkg/events"
	"github.com/mwojnars/schemat-sub000/pkg/health"
	"github.com/mwojnars/schemat-sub000/pkg/log"
	"github.com/mwojnars/schemat-sub000/pkg/metrics"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// PeerSource supplies the reconciler with every cluster member this
// node's master knows a TCP address for. *node.Node's Peers method
// satisfies this.
type PeerSource interface {
	Peers() map[string]types.NodeInfo
}

// ReplicaController is the subset of *placement.Controller the
// reconciler drives: reading the current replica count for an agent
// and adjusting it to match the desired count.
type ReplicaController interface {
	GetNumReplicas(agentID int64) int
	AdjustReplicas(ctx context.Context, agentID int64, n int) error
}

// DesiredState supplies the set of agents under desired-state
// management and each one's target replica count.
type DesiredState interface {
	Agents() []int64
	DesiredReplicas(agentID int64) int
}

// Reconciler ensures actual cluster state matches desired state: it
// marks unreachable nodes down (evicting their placements from the
// global atlas) and asks the placement controller to adjust replica
// counts back to target wherever they've drifted.
type Reconciler struct {
	global     *atlas.Atlas
	controller ReplicaController
	peers      PeerSource
	desired    DesiredState
	broker     *events.Broker
	logger     zerolog.Logger

	interval     time.Duration
	probeTimeout time.Duration
	downAfter    int // consecutive probe failures before a node is marked down

	mu       sync.Mutex
	statuses map[string]*health.Status

	stopCh chan struct{}
}

// New creates a reconciler. broker may be nil, in which case node.down
// notifications are simply not published.
func New(global *atlas.Atlas, controller ReplicaController, peers PeerSource, desired DesiredState, broker *events.Broker) *Reconciler {
	return &Reconciler{
		global:       global,
		controller:   controller,
		peers:        peers,
		desired:      desired,
		broker:       broker,
		logger:       log.WithComponent("reconciler"),
		interval:     10 * time.Second,
		probeTimeout: 2 * time.Second,
		downAfter:    3,
		statuses:     make(map[string]*health.Status),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile performs one reconciliation cycle: node liveness followed
// by replica adjustment. Errors from either half are logged and
// skipped rather than aborting the cycle, matching a ticking
// best-effort loop's usual error posture.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.reconcileNodes()
	r.reconcileReplicas()
}

// reconcileNodes dials every known peer and evicts a node's placements
// from the global atlas once it has failed downAfter consecutive
// probes.
func (r *Reconciler) reconcileNodes() {
	if r.peers == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.probeTimeout)
	defer cancel()

	config := health.DefaultConfig()
	config.Retries = r.downAfter

	for id, info := range r.peers.Peers() {
		checker := health.NewTCPChecker(info.TCPAddress).WithTimeout(r.probeTimeout)
		result := checker.Check(ctx)

		r.mu.Lock()
		status, ok := r.statuses[id]
		if !ok {
			status = health.NewStatus()
			r.statuses[id] = status
		}
		wasHealthy := status.Healthy
		status.Update(result, config)
		nowHealthy := status.Healthy
		r.mu.Unlock()

		if wasHealthy && !nowHealthy {
			r.markDown(id)
		} else if !wasHealthy && nowHealthy {
			r.logger.Info().Str("node_id", id).Msg("node reachable again")
		}
	}
}

func (r *Reconciler) markDown(nodeID string) {
	victims := r.global.RemoveByPlace(nodeID)
	r.logger.Warn().
		Str("node_id", nodeID).
		Int("evicted_placements", len(victims)).
		Msg("node unreachable, marking down and evicting its placements")

	metrics.NodesDownTotal.Inc()

	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:    events.EventNodeDown,
			Message: "node " + nodeID + " marked down",
			Metadata: map[string]string{
				"node_id": nodeID,
			},
		})
	}
}

// reconcileReplicas walks every desired-state agent and asks the
// placement controller to adjust its replica count back to target
// wherever the global atlas shows drift (typically caused by
// reconcileNodes evicting placements on a down node).
func (r *Reconciler) reconcileReplicas() {
	if r.desired == nil || r.controller == nil {
		return
	}

	ctx := context.Background()

	agents := r.desired.Agents()
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })

	for _, agentID := range agents {
		target := r.desired.DesiredReplicas(agentID)
		current := r.controller.GetNumReplicas(agentID)
		if current == target {
			continue
		}

		r.logger.Info().
			Int64("agent_id", agentID).
			Int("current_replicas", current).
			Int("desired_replicas", target).
			Msg("replica count drifted, adjusting")

		if err := r.controller.AdjustReplicas(ctx, agentID, target); err != nil {
			r.logger.Error().
				Err(err).
				Int64("agent_id", agentID).
				Msg("failed to adjust replica count")
		}
	}
}

// StaticDesiredState is a fixed agent/replica-count table, built once
// from the bootstrap manifest's initial placements and never updated
// at runtime: nothing in scope exposes a dynamic scale-replicas API.
type StaticDesiredState struct {
	replicas map[int64]int
}

// NewStaticDesiredState copies replicas into an immutable DesiredState.
func NewStaticDesiredState(replicas map[int64]int) *StaticDesiredState {
	cp := make(map[int64]int, len(replicas))
	for id, n := range replicas {
		cp[id] = n
	}
	return &StaticDesiredState{replicas: cp}
}

func (s *StaticDesiredState) Agents() []int64 {
	ids := make([]int64, 0, len(s.replicas))
	for id := range s.replicas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *StaticDesiredState) DesiredReplicas(agentID int64) int {
	return s.replicas[agentID]
}
