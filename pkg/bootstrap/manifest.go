/*
Package bootstrap parses the cluster bootstrap manifest of spec §6: a
YAML file declaring the bootstrap rings (the underlying ring/block
storage the Kernel hands off to `schemat.get_loaded`, out of this
repo's scope per spec §1) plus any override options. Grounded on
`gopkg.in/yaml.v3`, the teacher's manifest codec (see pkg/deploy's
compose-like YAML specs), read with the same load-or-default shape as
pkg/storage's boltdb bucket-per-entity pattern.

Two override sections round out the "plus any override options" of
spec §6: peers (the static cluster membership list a join protocol
would otherwise supply, since spec §1 excludes peer authentication and
describes no discovery mechanism) and initial_agents (the
_start_agents(initialAgents) bootstrap placements of spec §4.7).
*/
package bootstrap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Ring names one bootstrap ring and the on-disk file backing it.
// ReadOnly defaults to true when the manifest omits it.
type Ring struct {
	Name     string `yaml:"name"`
	File     string `yaml:"file"`
	ReadOnly *bool  `yaml:"readonly,omitempty"`
}

// IsReadOnly returns the ring's effective readonly flag, true by
// default per spec §6.
func (r Ring) IsReadOnly() bool {
	if r.ReadOnly == nil {
		return true
	}
	return *r.ReadOnly
}

// Peer names one other cluster member's master, by id and TCP dial
// address, plus how many worker processes it runs. Populates the
// global atlas and the node agent's peer table at boot, standing in
// for a join protocol (spec §1 Non-goals: no peer authentication, and
// no membership protocol is described beyond static configuration).
type Peer struct {
	ID         string `yaml:"id"`
	TCPAddress string `yaml:"tcp_address"`
	NumWorkers int    `yaml:"num_workers"`
}

// AgentPlacement is one declared entry of the manifest's
// initial_agents override: the _start_agents(initialAgents) bootstrap
// of spec §4.7/§6. Worker is 1-based; 0 or out of range means
// round-robin assignment.
type AgentPlacement struct {
	AgentID int64  `yaml:"id"`
	Role    string `yaml:"role"`
	Worker  int    `yaml:"worker,omitempty"`
}

// Manifest is the top-level shape of the bootstrap YAML file.
type Manifest struct {
	BootstrapRings []Ring           `yaml:"bootstrap_rings"`
	Peers          []Peer           `yaml:"peers,omitempty"`
	InitialAgents  []AgentPlacement `yaml:"initial_agents,omitempty"`
}

// Default returns the manifest the kernel uses when --config names no
// file: a single ring named "default", readonly.
func Default() Manifest {
	return Manifest{BootstrapRings: []Ring{{Name: "default", File: "", ReadOnly: boolPtr(true)}}}
}

func boolPtr(b bool) *bool { return &b }

// Load reads and parses the manifest at path. An empty path returns
// Default() without touching the filesystem.
func Load(path string) (Manifest, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: reading manifest %q: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: parsing manifest %q: %w", path, err)
	}
	if len(m.BootstrapRings) == 0 {
		return Default(), nil
	}
	return m, nil
}
