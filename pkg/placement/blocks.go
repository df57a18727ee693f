package placement

import "github.com/mwojnars/schemat-sub000/pkg/atlas"

// BlockReplicaSource supplies the replica count for a block agent from
// its sequence descriptor, standing in for the block's own on-disk
// shard/replica configuration (outside this package's scope).
type BlockReplicaSource func(agentID int64) int

type blockRoles struct {
	source BlockReplicaSource
}

func (blockRoles) Roles(int64) (string, string) { return "$master", "$replica" }

func (r blockRoles) ReplicaCount(agentID int64, requested int) int {
	if r.source == nil {
		return requested
	}
	if n := r.source(agentID); n >= 0 {
		return n
	}
	return requested
}

// BlocksController is the block-specific variant of spec §4.9:
// role names are fixed to ["$master", "$replica"] and the replica
// count comes from the block's own sequence descriptor rather than
// the caller's requested count.
type BlocksController struct {
	*Controller
}

// NewBlocksController builds a BlocksController. source may be nil, in
// which case the caller's requested replica count is used verbatim.
func NewBlocksController(global *atlas.Atlas, dispatch Dispatcher, source BlockReplicaSource) *BlocksController {
	return &BlocksController{
		Controller: &Controller{
			global:   global,
			dispatch: dispatch,
			roles:    blockRoles{source: source},
		},
	}
}
