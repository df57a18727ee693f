/*
Package storage provides BoltDB-backed persistence for the kernel's
restart-survival state: each node's current agent deployment records
and a cache of the last-loaded bootstrap manifest.

Everything else a running node needs — the routing atlas, frame
registry, mailbox queues — lives in memory only, so the bucket set here
stays deliberately narrow compared to a full cluster-state store.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/schemat.db               │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ deployments (node ID key)  │             │          │
	│  │  │ manifest    (fixed key)    │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements the Store interface using BoltDB
  - One database file per node
  - Buckets created on first open

Buckets:
  - deployments: per-node []types.DeploymentRecord, JSON-encoded
  - manifest: the raw bootstrap manifest bytes loaded at last boot

# Usage

	store, err := storage.NewBoltStore("/var/lib/schemat/node-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.PutDeployments("node-1", records)
	records, err := store.GetDeployments("node-1")

	err = store.PutManifestCache(rawYAML)
	cached, err := store.GetManifestCache()

# Integration Points

  - pkg/node: persists its agents[] slice after every start_agent/
    stop_agent mutation. Nothing reads the records back on restart.
  - The manifest-cache methods have no caller outside tests; the
    kernel loads its bootstrap manifest from disk on every boot.

# See Also

  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
