package placement

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/mwojnars/schemat-sub000/pkg/atlas"
)

// Dispatcher issues a placement decision to the cluster: starting or
// stopping an agent's role on a specific node. cmd/kernel's
// rpcDispatcher implements this over the node pseudo-agent (pkg/node)
// by relaying an RPC to that node's $master.start_agent/stop_agent
// (spec §4.8/§4.9).
type Dispatcher interface {
	StartAgent(ctx context.Context, node string, agentID int64, role string, replicas int) error
	StopAgent(ctx context.Context, node string, agentID int64, role string) error
}

// RoleSource supplies the role vector and replica count for an agent
// being deployed. The base Controller always returns ["$leader",
// "$replica"] and the caller's requested count unchanged;
// BlocksController returns the fixed ["$master", "$replica"] roles and
// takes the count from a block's sequence descriptor.
type RoleSource interface {
	Roles(agentID int64) (leader, replica string)
	ReplicaCount(agentID int64, requested int) int
}

type defaultRoles struct{}

func (defaultRoles) Roles(int64) (string, string)            { return "$leader", "$replica" }
func (defaultRoles) ReplicaCount(_ int64, requested int) int { return requested }

// Controller is spec §4.9's placement controller: deploy/adjust_replicas/
// get_roles/get_num_replicas/get_num_workers, living inside the
// cluster leader's state and consulting the global atlas for load.
type Controller struct {
	global   *atlas.Atlas
	dispatch Dispatcher
	roles    RoleSource
}

// New builds a generic leader+replica Controller.
func New(global *atlas.Atlas, dispatch Dispatcher) *Controller {
	return &Controller{global: global, dispatch: dispatch, roles: defaultRoles{}}
}

// Deploy places a new agent's leader plus replicas (spec §4.9 steps
// 1-5): rejects a pre-existing leader or replica deployment, resolves
// a negative replica count to cluster_size-1, then walks the role
// vector picking a fresh least-busy node for each entry.
func (c *Controller) Deploy(ctx context.Context, agentID int64, replicas int) error {
	leaderRole, replicaRole := c.roles.Roles(agentID)

	if _, ok := c.global.FindFirst(agentID, leaderRole); ok {
		return fmt.Errorf("placement: agent %d already has a %q deployment", agentID, leaderRole)
	}
	if _, ok := c.global.FindFirst(agentID, replicaRole); ok {
		return fmt.Errorf("placement: agent %d already has a %q deployment", agentID, replicaRole)
	}

	if replicas < 0 {
		replicas = c.GetNumWorkers() - 1
	}
	n := c.roles.ReplicaCount(agentID, replicas)
	if n < 0 {
		n = 0
	}

	roleVector := make([]string, 0, n+1)
	roleVector = append(roleVector, leaderRole)
	for i := 0; i < n; i++ {
		roleVector = append(roleVector, replicaRole)
	}

	used := make(map[string]bool, len(roleVector))
	for _, role := range roleVector {
		node, err := c.pickNode(used)
		if err != nil {
			return err
		}
		used[node] = true
		if err := c.dispatch.StartAgent(ctx, node, agentID, role, 1); err != nil {
			return err
		}
	}
	return nil
}

// AdjustReplicas grows or shrinks the replica count of an
// already-deployed agent to exactly n, leaving the leader untouched.
func (c *Controller) AdjustReplicas(ctx context.Context, agentID int64, n int) error {
	leaderRole, replicaRole := c.roles.Roles(agentID)

	current := c.global.FindAll(agentID, replicaRole)
	switch {
	case len(current) > n:
		victims := pickRandom(current, len(current)-n)
		for _, r := range victims {
			if err := c.dispatch.StopAgent(ctx, r.Node, agentID, replicaRole); err != nil {
				return err
			}
		}
	case len(current) < n:
		if _, ok := c.global.FindFirst(agentID, leaderRole); !ok {
			return fmt.Errorf("placement: agent %d has no %q to adjust replicas against", agentID, leaderRole)
		}
		used := make(map[string]bool, len(current)+1)
		for _, r := range current {
			used[r.Node] = true
		}
		if leader, ok := c.global.FindFirst(agentID, leaderRole); ok {
			used[leader.Node] = true
		}
		for i := 0; i < n-len(current); i++ {
			node, err := c.pickNode(used)
			if err != nil {
				return err
			}
			used[node] = true
			if err := c.dispatch.StartAgent(ctx, node, agentID, replicaRole, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetRoles returns the [leader, replica] role names this controller
// deploys an agent under.
func (c *Controller) GetRoles(agentID int64) []string {
	leader, replica := c.roles.Roles(agentID)
	return []string{leader, replica}
}

// GetNumReplicas reports how many replica-role placements currently
// exist for agentID.
func (c *Controller) GetNumReplicas(agentID int64) int {
	_, replicaRole := c.roles.Roles(agentID)
	return len(c.global.FindAll(agentID, replicaRole))
}

// GetNumWorkers reports the cluster's node count, as seen by the
// global atlas (every distinct "place" it has a record for).
func (c *Controller) GetNumWorkers() int {
	return len(c.global.RankPlaces(nil))
}

// pickNode selects the least-busy node from the global atlas,
// excluding any place already in exclude (spec: "excluding
// already-used nodes in this deployment").
func (c *Controller) pickNode(exclude map[string]bool) (string, error) {
	ranked := c.global.RankPlaces(exclude)
	if len(ranked) == 0 {
		return "", fmt.Errorf("placement: no eligible node found")
	}
	return ranked[0], nil
}

func pickRandom[T any](items []T, k int) []T {
	if k >= len(items) {
		return items
	}
	shuffled := make([]T, len(items))
	copy(shuffled, items)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:k]
}
