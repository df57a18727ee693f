package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwojnars/schemat-sub000/pkg/atlas"
	"github.com/mwojnars/schemat-sub000/pkg/frame"
	"github.com/mwojnars/schemat-sub000/pkg/mailbox"
	"github.com/mwojnars/schemat-sub000/pkg/metrics"
	"github.com/mwojnars/schemat-sub000/pkg/rpc"
	"github.com/mwojnars/schemat-sub000/pkg/tcp"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// Role distinguishes the two pseudo-agent variants of a Node.
type Role string

const (
	RoleMaster Role = "$master"
	RoleWorker Role = "$worker"
)

// LocalKernel is the subset of *kernel.Kernel a Node needs: looking up
// and mutating the process's own frame registry. Declared here (rather
// than imported from pkg/kernel) so node and kernel don't import each
// other; cmd/kernel wires the concrete *kernel.Kernel in.
type LocalKernel interface {
	FindByAgent(id int64, role string) (*frame.Frame, bool)
	StartAgent(ctx context.Context, fid string, id int64, role string) (*frame.Frame, error)
	StopAgent(ctx context.Context, id int64, role string) error
}

// IPCLink sends a request to a peer process (master<->worker) and
// waits for its response. *ipc.Channel's Mailbox satisfies this.
type IPCLink interface {
	Send(ctx context.Context, payload json.RawMessage) (mailbox.Result, error)
}

// DeploymentStore is the subset of storage.Store a master persists its
// agents[] to after every start_agent/stop_agent mutation (spec §4.8:
// "persists via action"). *storage.BoltStore satisfies this.
type DeploymentStore interface {
	PutDeployments(nodeID string, records []types.DeploymentRecord) error
}

// Node is the $master/$worker pseudo-agent of spec §4.8.
type Node struct {
	id         string
	role       Role
	selfWorker int // 0 on the master, 1-based on a worker
	kernel     LocalKernel
	log        zerolog.Logger

	mu sync.RWMutex

	// master-only
	local       *atlas.Atlas // this node's own worker-level placements
	global      *atlas.Atlas // cluster-wide, node-level placements
	agents      []types.RoutingRecord
	peers       map[string]types.NodeInfo // node id -> tcp address
	tcpSender   *tcp.Sender
	workerLinks map[int]IPCLink
	numWorkers  int
	store       DeploymentStore

	// worker-only
	masterLink IPCLink
}

// NewMaster constructs a Node running in $master role.
func NewMaster(nodeID string, kernel LocalKernel, tcpSender *tcp.Sender, log zerolog.Logger) *Node {
	return &Node{
		id:          nodeID,
		role:        RoleMaster,
		selfWorker:  0,
		kernel:      kernel,
		log:         log.With().Str("node", nodeID).Str("role", string(RoleMaster)).Logger(),
		local:       atlas.NewLocal(nodeID, nil, 0),
		global:      atlas.NewGlobal(nodeID, map[string][]types.RoutingRecord{}, map[string]int{}),
		peers:       make(map[string]types.NodeInfo),
		tcpSender:   tcpSender,
		workerLinks: make(map[int]IPCLink),
	}
}

// NewWorker constructs a Node running in $worker role.
func NewWorker(nodeID string, workerID int, kernel LocalKernel, masterLink IPCLink, log zerolog.Logger) *Node {
	return &Node{
		id:         nodeID,
		role:       RoleWorker,
		selfWorker: workerID,
		kernel:     kernel,
		log:        log.With().Str("node", nodeID).Str("role", string(RoleWorker)).Int("worker", workerID).Logger(),
		masterLink: masterLink,
	}
}

// AttachWorkerLink registers the master's IPC link to worker id, used
// by rpc_recv to forward calls the master itself doesn't hold.
func (n *Node) AttachWorkerLink(workerID int, link IPCLink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.workerLinks[workerID] = link
}

// SetPeer records a cluster peer's TCP address, used by rpc_frwd's
// final hop to another node's master.
func (n *Node) SetPeer(info types.NodeInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[info.ID] = info
}

// SetNumWorkers records how many worker processes this master
// supervises, seeding the local atlas with a $worker pseudo-record per
// worker so RankPlaces/start_agent have placement targets before any
// real agent is deployed.
func (n *Node) SetNumWorkers(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.numWorkers = count
	for w := 1; w <= count; w++ {
		n.local.Insert(types.RoutingRecord{Node: n.id, Worker: w, AgentID: 0, Role: string(RoleWorker)})
	}
}

// SetStore wires the deployment record store. Until called, agents[]
// mutations are not persisted anywhere.
func (n *Node) SetStore(store DeploymentStore) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.store = store
}

// persist writes the current agents[] snapshot to the deployment
// store, logging rather than failing the caller's mutation on error:
// a restart losing the freshest placement is recoverable by replaying
// the bootstrap manifest, but aborting a live start/stop_agent call
// over a storage hiccup is not spec behavior.
func (n *Node) persist() {
	n.mu.RLock()
	store := n.store
	records := make([]types.DeploymentRecord, len(n.agents))
	for i, r := range n.agents {
		records[i] = types.DeploymentRecord{AgentID: r.AgentID, Role: r.Role, Worker: r.Worker, FID: r.FID}
	}
	n.mu.RUnlock()

	if store == nil {
		return
	}
	if err := store.PutDeployments(n.id, records); err != nil {
		n.log.Error().Err(err).Msg("failed to persist deployment records")
	}
}

// LocalAtlas and GlobalAtlas expose the master's routing tables so the
// placement controller (pkg/placement) can rank places without Node
// re-implementing atlas bookkeeping.
func (n *Node) LocalAtlas() *atlas.Atlas  { return n.local }
func (n *Node) GlobalAtlas() *atlas.Atlas { return n.global }

// Peers returns a snapshot of every cluster member this master knows
// an address for, keyed by node id. Used by the reconciler's
// node-down detection to dial each peer's TCP address.
func (n *Node) Peers() map[string]types.NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]types.NodeInfo, len(n.peers))
	for id, info := range n.peers {
		out[id] = info
	}
	return out
}

// types.Agent implementation, so a Node can be wrapped by a Frame like
// any other agent and be the first thing Kernel.StartAgent boots.

func (n *Node) ID() int64        { return 0 }
func (n *Node) TTL() time.Duration { return 0 }
func (n *Node) Concurrent() bool { return true }

func (n *Node) Commands() map[string]types.Command {
	if n.role == RoleMaster {
		return map[string]types.Command{
			"$master.start_agent": n.cmdMasterStartAgent,
			"$master.stop_agent":  n.cmdMasterStopAgent,
		}
	}
	return map[string]types.Command{
		"$worker._start_agent": n.cmdWorkerStartAgent,
		"$worker._stop_agent":  n.cmdWorkerStopAgent,
	}
}

// RPC routes req per spec §4.8's five-step algorithm, returning the
// callee's raw JSON result.
func (n *Node) RPC(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	metrics.CallsInFlight.Inc()
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CallDuration)
		metrics.CallsInFlight.Dec()
	}()

	if n.runsLocally(req) {
		return n.rpcExec(ctx, req)
	}
	if req.Broadcast {
		return n.rpcBroadcast(ctx, req)
	}
	if n.role == RoleWorker {
		return n.sendToMaster(ctx, req)
	}
	return n.rpcFrwd(ctx, req)
}

func (n *Node) runsLocally(req rpc.Request) bool {
	if req.EffectiveScope() == types.ScopeProcess {
		return true
	}
	if req.Worker != nil && *req.Worker == n.selfWorker {
		return true
	}
	// An explicit Node addressed at a peer must still travel rpc_frwd's
	// node resolution even when agent 0 ($master/$worker) happens to
	// have a frame here too, since every master registers that pseudo-
	// agent locally.
	if req.Node != "" && req.Node != n.id {
		return false
	}
	if !req.Broadcast {
		if _, ok := n.kernel.FindByAgent(req.RPC.AgentID, req.EffectiveRole()); ok {
			return true
		}
	}
	return false
}

func (n *Node) rpcExec(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	f, ok := n.kernel.FindByAgent(req.RPC.AgentID, req.EffectiveRole())
	if !ok {
		return nil, rpc.NewError(rpc.KindNotFound, fmt.Sprintf("no local frame for agent %d/%s", req.RPC.AgentID, req.EffectiveRole()))
	}
	result, err := f.Exec(ctx, req.RPC.Command, req.RPC.Args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

// rpcFrwd is the master-only forwarding step: resolve which node holds
// the target and either handle it locally (rpc_recv) or hop over TCP
// to that node's master.
func (n *Node) rpcFrwd(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	targetNode := req.Node
	switch {
	case req.Worker != nil:
		targetNode = n.id // worker pinned => node defaults to self
	case targetNode == "":
		targetNode = n.findNode(req.RPC.AgentID, req.EffectiveRole())
	}

	if targetNode == "" || targetNode == n.id {
		return n.rpcRecv(ctx, req)
	}
	return n.tcpSendToPeer(ctx, targetNode, req)
}

// findNode resolves which node hosts (agentID, role): the local node
// wins if it has a placement, else the global atlas is consulted.
func (n *Node) findNode(agentID int64, role string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, ok := n.local.FindFirst(agentID, role); ok {
		return n.id
	}
	if rec, ok := n.global.FindFirst(agentID, role); ok {
		return rec.Node
	}
	return ""
}

// rpcBroadcast implements broadcast=true (Open Question Decision #2):
// fan out to every node/worker holding a matching deployment and
// return the first completed response, canceling nothing; every other
// fan-out's error is logged, not surfaced. A worker has no global
// atlas to resolve targets from, so it simply forwards the whole
// broadcast envelope up to its master, which is always the one to
// actually fan out.
func (n *Node) rpcBroadcast(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	if n.role == RoleWorker {
		return n.sendToMaster(ctx, req)
	}

	targets := n.global.FindAll(req.RPC.AgentID, req.EffectiveRole())
	if len(targets) == 0 {
		return nil, rpc.NewError(rpc.KindNotFound, fmt.Sprintf("no deployment found for agent %d/%s", req.RPC.AgentID, req.EffectiveRole()))
	}

	type outcome struct {
		result json.RawMessage
		err    error
	}
	results := make(chan outcome, len(targets))
	for _, rec := range targets {
		rec := rec
		go func() {
			single := req
			single.Broadcast = false
			single.Node = rec.Node
			w := rec.Worker
			single.Worker = &w

			var (
				res json.RawMessage
				err error
			)
			if rec.Node == n.id {
				res, err = n.rpcRecv(ctx, single)
			} else {
				res, err = n.tcpSendToPeer(ctx, rec.Node, single)
			}
			results <- outcome{res, err}
		}()
	}

	var lastErr error
	for range targets {
		out := <-results
		if out.err == nil {
			return out.result, nil
		}
		n.log.Warn().Err(out.err).Msg("broadcast fan-out: deployment failed")
		lastErr = out.err
	}
	return nil, lastErr
}

// rpcRecv is reached once the target node is known to be this one: it
// determines the worker holding the target and forwards over IPC, or
// executes directly if that worker is this process.
func (n *Node) rpcRecv(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	worker := n.findWorker(req)
	if worker == n.selfWorker {
		return n.rpcExec(ctx, req)
	}
	return n.sendToWorker(ctx, worker, req)
}

func (n *Node) findWorker(req rpc.Request) int {
	if req.Worker != nil {
		return *req.Worker
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if rec, ok := n.local.FindFirst(req.RPC.AgentID, req.EffectiveRole()); ok {
		return rec.Worker
	}
	return 0
}

func (n *Node) sendToWorker(ctx context.Context, worker int, req rpc.Request) (json.RawMessage, error) {
	n.mu.RLock()
	link, ok := n.workerLinks[worker]
	n.mu.RUnlock()
	if !ok {
		return nil, rpc.NewError(rpc.KindIPC, fmt.Sprintf("no ipc link to worker %d", worker))
	}
	return sendViaLink(ctx, link, req)
}

func (n *Node) sendToMaster(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	if n.masterLink == nil {
		return nil, rpc.NewError(rpc.KindIPC, "worker has no ipc link to master")
	}
	return sendViaLink(ctx, n.masterLink, req)
}

func sendViaLink(ctx context.Context, link IPCLink, req rpc.Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	res, err := link.Send(ctx, payload)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if !res.HasValue {
		return nil, nil
	}
	return res.Value, nil
}

func (n *Node) tcpSendToPeer(ctx context.Context, nodeID string, req rpc.Request) (json.RawMessage, error) {
	n.mu.RLock()
	peer, ok := n.peers[nodeID]
	sender := n.tcpSender
	n.mu.RUnlock()
	if !ok {
		return nil, rpc.NewError(rpc.KindNotFound, fmt.Sprintf("unknown peer node %q", nodeID))
	}
	if sender == nil {
		return nil, rpc.NewError(rpc.KindFatal, "node has no tcp sender configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	result, err := sender.Send(ctx, peer.TCPAddress, payload)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Value, nil
}

// HandleIPC is the callback a master wires as `node.ipc_master(msg)`
// and a worker wires as `node.ipc_worker(msg)` (spec §4.7): both
// simply decode the envelope and run it back through RPC, landing on
// rpc_frwd or rpc_exec respectively depending on role.
func (n *Node) HandleIPC(payload json.RawMessage) (any, error) {
	var req rpc.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	result, err := n.RPC(context.Background(), req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// HandleTCP is the tcp.Handler the master's Receiver invokes for an
// inbound peer request (spec §4.2/§4.8): it always runs through
// rpc_recv, since a TCP hop only ever targets this node's master. The
// returned json.RawMessage is marshaled by the Receiver itself into
// the wire response's result field, so no rpc.Response envelope is
// built here.
func (n *Node) HandleTCP(payload json.RawMessage) (any, error) {
	var req rpc.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return n.rpcRecv(context.Background(), req)
}
