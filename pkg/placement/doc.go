/*
Package placement implements the placement controller of spec §4.9
(C9): deciding how many replicas of an agent to run and on which
cluster nodes, ranking candidates by load from the global atlas.

Grounded on pkg/scheduler/scheduler.go's ticking least-busy-node
selection (schedule -> scheduleReplicatedService -> selectNodeForService),
generalized from container/service scheduling to the spec's
leader+replica role vector over agents. Unlike the teacher, nothing
here runs on a ticker: deploy/adjust_replicas run synchronously in
their caller, so there is no schedule() loop to adapt; pkg/reconciler
is where the periodic reconciliation concern the teacher's ticker
served has ended up instead, and its tick is what calls
adjust_replicas.
*/
package placement
