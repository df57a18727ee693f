/*
Package kernel implements the per-process frame registry of spec §4.7
(C7): the common master/worker responsibilities of registering and
unregistering frames, starting and refreshing agents, and shutting
everything down in reverse creation order.

Grounded on pkg/manager/manager.go's Config/NewManager constructor
shape (data dir setup, store wiring, error wrapping with %w) and its
registration of itself as the process-wide controller; generalized
from a single raft-backed cluster controller to a frame registry that
both the master and worker processes embed. The master/worker split
itself is grounded on pkg/worker/worker.go's narrower, single-node
responsibilities versus manager.go's cluster-wide ones.
*/
package kernel
