package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/mwojnars/schemat-sub000/pkg/rpc"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// startAgentOpts is the second positional argument of
// $master.start_agent(agent, {role, worker?, replicas?}).
type startAgentOpts struct {
	Role     string `json:"role"`
	Worker   *int   `json:"worker,omitempty"`
	Replicas int    `json:"replicas,omitempty"`
}

// stopAgentOpts is the second positional argument of
// $master.stop_agent(agent, {role?}).
type stopAgentOpts struct {
	Role string `json:"role,omitempty"`
}

// cmdMasterStartAgent implements $master.start_agent(agent, {role,
// worker?, replicas?}): picks one or more workers (pinned, or
// least-busy via the local atlas's rank_places), issues
// $worker({w})._start_agent(id, role) over IPC for each, and records
// the resulting placements in both agents[] and the local atlas.
func (n *Node) cmdMasterStartAgent(_ any, args []json.RawMessage) (any, error) {
	if len(args) < 2 {
		return nil, rpc.NewError(rpc.KindRPC, "start_agent requires (agent, opts)")
	}
	var agentID int64
	if err := json.Unmarshal(args[0], &agentID); err != nil {
		return nil, err
	}
	var opts startAgentOpts
	if err := json.Unmarshal(args[1], &opts); err != nil {
		return nil, err
	}
	if opts.Role == "" {
		return nil, rpc.NewError(rpc.KindRPC, "start_agent requires a role")
	}

	replicas := opts.Replicas
	if replicas < 1 {
		replicas = 1
	}

	n.mu.RLock()
	numWorkers := n.numWorkers
	n.mu.RUnlock()
	if replicas > numWorkers {
		return nil, rpc.NewError(rpc.KindRPC, fmt.Sprintf("replicas %d exceeds %d known workers", replicas, numWorkers))
	}

	workers, err := n.pickWorkers(opts, replicas)
	if err != nil {
		return nil, err
	}

	placed := make([]types.RoutingRecord, 0, len(workers))
	for _, worker := range workers {
		callArgs, err := rpc.EncodeArgs(agentID, opts.Role)
		if err != nil {
			return nil, err
		}
		w := worker
		req := rpc.Request{
			RPC:    rpc.Call{Command: "_start_agent", Args: callArgs},
			Role:   string(RoleWorker),
			Worker: &w,
		}
		result, err := n.RPC(context.Background(), req)
		if err != nil {
			return nil, err
		}
		var fid string
		if err := json.Unmarshal(result, &fid); err != nil {
			return nil, err
		}

		record := types.RoutingRecord{Node: n.id, Worker: worker, FID: fid, AgentID: agentID, Role: opts.Role}
		n.mu.Lock()
		n.agents = append(n.agents, record)
		n.local.Insert(record)
		n.mu.Unlock()
		placed = append(placed, record)
	}

	n.persist()
	return placed, nil
}

// pickWorkers resolves opts.Worker (pinned) or ranks this node's
// workers by ascending load, excluding place "0" (the $master row
// itself, never a deploy target).
func (n *Node) pickWorkers(opts startAgentOpts, replicas int) ([]int, error) {
	if opts.Worker != nil {
		return []int{*opts.Worker}, nil
	}

	ranked := n.local.RankPlaces(map[string]bool{"0": true})
	workers := make([]int, 0, replicas)
	for _, p := range ranked {
		w, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		workers = append(workers, w)
		if len(workers) == replicas {
			break
		}
	}
	if len(workers) == 0 {
		return nil, rpc.NewError(rpc.KindRPC, "no eligible worker found")
	}
	return workers, nil
}

// cmdMasterStopAgent implements $master.stop_agent(agent, {role?}):
// finds every placement matching (agent, role?), removes it from
// agents[] and the local atlas, and stops the underlying frames in
// reverse deployment order.
func (n *Node) cmdMasterStopAgent(_ any, args []json.RawMessage) (any, error) {
	if len(args) < 1 {
		return nil, rpc.NewError(rpc.KindRPC, "stop_agent requires (agent, opts?)")
	}
	var agentID int64
	if err := json.Unmarshal(args[0], &agentID); err != nil {
		return nil, err
	}
	var opts stopAgentOpts
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &opts); err != nil {
			return nil, err
		}
	}

	n.mu.Lock()
	var remaining, matched []types.RoutingRecord
	for _, r := range n.agents {
		if r.AgentID == agentID && (opts.Role == "" || r.Role == opts.Role) {
			matched = append(matched, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	n.agents = remaining
	for _, r := range matched {
		n.local.RemoveByFID(r.FID)
	}
	n.mu.Unlock()
	n.persist()

	for i := len(matched) - 1; i >= 0; i-- {
		r := matched[i]
		callArgs, err := rpc.EncodeArgs(r.AgentID, r.Role)
		if err != nil {
			return nil, err
		}
		w := r.Worker
		req := rpc.Request{
			RPC:    rpc.Call{Command: "_stop_agent", Args: callArgs},
			Role:   string(RoleWorker),
			Worker: &w,
		}
		if _, err := n.RPC(context.Background(), req); err != nil {
			return nil, err
		}
	}

	return len(matched), nil
}

// cmdWorkerStartAgent implements $worker._start_agent(id, role): a
// thin wrapper over Kernel.StartAgent. The worker mints the frame id
// itself (the master never sees a live Frame) and returns it so the
// master's atlas can track the placement.
func (n *Node) cmdWorkerStartAgent(_ any, args []json.RawMessage) (any, error) {
	if len(args) < 2 {
		return nil, rpc.NewError(rpc.KindRPC, "_start_agent requires (id, role)")
	}
	var agentID int64
	if err := json.Unmarshal(args[0], &agentID); err != nil {
		return nil, err
	}
	var role string
	if err := json.Unmarshal(args[1], &role); err != nil {
		return nil, err
	}

	fid := uuid.NewString()
	if _, err := n.kernel.StartAgent(context.Background(), fid, agentID, role); err != nil {
		return nil, err
	}
	return fid, nil
}

// cmdWorkerStopAgent implements $worker._stop_agent(id, role): a thin
// wrapper over Kernel.StopAgent.
func (n *Node) cmdWorkerStopAgent(_ any, args []json.RawMessage) (any, error) {
	if len(args) < 2 {
		return nil, rpc.NewError(rpc.KindRPC, "_stop_agent requires (id, role)")
	}
	var agentID int64
	if err := json.Unmarshal(args[0], &agentID); err != nil {
		return nil, err
	}
	var role string
	if err := json.Unmarshal(args[1], &role); err != nil {
		return nil, err
	}
	return nil, n.kernel.StopAgent(context.Background(), agentID, role)
}
