/*
Package node implements the node pseudo-agent of spec §4.8 (C8): the
per-process `$master`/`$worker` object that owns RPC routing, the
master's local and global atlases, and the cluster's TCP/IPC plumbing.

A Node is itself wrapped by a Frame like any other agent (its
Commands() table exposes $master.start_agent/$master.stop_agent on a
master node and $worker._start_agent/$worker._stop_agent on a worker
node), which is how `Kernel.start_agent` bootstraps the very first
frame of a process.

Grounded on spec §4.8's five-step rpc() routing algorithm; the
node/service map bookkeeping it builds on is pkg/atlas, itself
grounded on the teacher's pkg/manager/manager.go maps. No direct
teacher analogue exists for the routing decision tree, since warren
routes every write through raft rather than peer-to-peer RPC.
*/
package node
