/*
Package atlas implements the routing atlas of spec §3/§4.5 (C5): an
indexed table of (node, worker, fid, agent, role) records with lookups
by fid / agent-id / (agent-id, role), priority-ordered so the local
place sorts first, plus Shard arithmetic for describing id ranges.

LocalAtlas has PLACE=worker (entries are this node's own workers);
GlobalAtlas has PLACE=node (entries span the cluster, indexed by node).
Both are the same underlying indexed table parameterized by which
record field identifies a "place" and which value is "home".

Grounded on the teacher's RWMutex-guarded, rebuilt-on-change node/
service maps in pkg/manager/manager.go; no direct analogue exists since
warren has no routing-by-replica concept of its own (raft handles
leader election instead).
*/
package atlas
