package storage

import (
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// Store persists the two things the kernel must survive a restart:
// each node's current agent placements (spec §6's deployment record,
// `{id, role, worker, fid?}`), and the raw bootstrap manifest bytes.
type Store interface {
	// PutDeployments replaces the full set of deployment records for
	// nodeID. The master calls this after every start_agent/stop_agent
	// mutation of its agents[] slice.
	PutDeployments(nodeID string, records []types.DeploymentRecord) error

	// GetDeployments returns nodeID's last-persisted deployment
	// records, or an empty slice if none were ever stored.
	GetDeployments(nodeID string) ([]types.DeploymentRecord, error)

	// PutManifestCache stores the raw bootstrap manifest bytes loaded
	// at a prior boot.
	PutManifestCache(data []byte) error

	// GetManifestCache returns the cached manifest bytes, or nil if
	// none were ever stored.
	GetManifestCache() ([]byte, error)

	Close() error
}
