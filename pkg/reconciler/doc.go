/*
Package reconciler provides failure detection and desired-state healing
for the kernel's placement decisions.

The reconciler runs as a ticking background loop in every node's
master process, continuously checking for two kinds of drift: unreachable
peers, and agent deployments whose actual replica count no longer
matches what was declared at bootstrap. Both are corrected without any
operator intervention.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Loop                       │
	│                   (every 10 seconds)                       │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	    ┌────────────┴────────────┐
	    │                         │
	    ▼                         ▼
	┌──────────────────┐   ┌───────────────────┐
	│ Reconcile Nodes  │   │ Reconcile Replicas│
	└─────┬────────────┘   └──────┬────────────┘
	      │                       │
	      ▼                       ▼
	  TCP dial probe         Compare desired vs.
	  each known peer        actual replica count
	      │                       │
	      ▼                       ▼
	  Evict placements       AdjustReplicas via the
	  for down nodes         placement controller

# Node Failure Detection

Every known peer (from PeerSource.Peers, a snapshot of the node
pseudo-agent's known cluster members) is dialed with a TCP health
probe each cycle. A consecutive-failure count is kept per node
(pkg/health's Status/Config, the same bookkeeping the teacher used for
container health) and the node is marked down once it crosses
downAfter consecutive failures (default 3).

Marking a node down evicts every placement at that node from the
global atlas (Atlas.RemoveByPlace) and publishes a node.down event.
Evicting the placements is what feeds the replica reconciliation half
of the cycle: once a leader or replica's record disappears from the
atlas, GetNumReplicas sees the shortfall and AdjustReplicas schedules
a replacement elsewhere.

A node that starts answering probes again is logged but its evicted
placements are not restored automatically — rejoining the cluster with
a fresh placement is a join-protocol concern outside this package.

# Replica Reconciliation

DesiredState supplies the fixed set of agents under management and
each one's target replica count (StaticDesiredState derives this once
from the bootstrap manifest's initial placements; nothing in scope
exposes a live scale-replicas API). Each cycle compares
ReplicaController.GetNumReplicas against the target and calls
AdjustReplicas to close any gap, whether caused by a node eviction
above or by a replica's frame exiting on its own.

# Usage

	r := reconciler.New(globalAtlas, placementController, node, desiredState, broker)
	r.Start()
	defer r.Stop()

# Design Patterns

Ticking loop with mutex-guarded per-node status, mirroring the rest of
the kernel's background loops (pkg/frame's Recurrent scheduler, the
event broker's broadcast goroutine): a single goroutine, a ticker, and
a stop channel closed by Stop.

Errors from either half of a cycle are logged and the cycle continues;
a single unreachable peer or a single failed AdjustReplicas call must
not block reconciliation of everything else.

# See Also

  - pkg/atlas for RemoveByPlace and the global routing table
  - pkg/placement for the controller being driven
  - pkg/health for the TCP probe and failure-count bookkeeping
  - pkg/events for the node.down notification
  - pkg/metrics for ReconciliationDuration/CyclesTotal/NodesDownTotal
*/
package reconciler
