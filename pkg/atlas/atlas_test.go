package atlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwojnars/schemat-sub000/pkg/types"
)

func TestAtlas_RankPlaces_IncludesFreshWorkerWithNoDeployments(t *testing.T) {
	// NewLocal seeds a $master pseudo-record (FID=="") for the node
	// plus two bare worker places with no agents deployed at all.
	a := NewLocal("node-a", nil, 0)
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, AgentID: 0, Role: "$worker"})
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 2, AgentID: 0, Role: "$worker"})

	ranked := a.RankPlaces(map[string]bool{"0": true})
	assert.ElementsMatch(t, []string{"1", "2"}, ranked, "fid-less worker placeholders must still be valid placement candidates")
}

func TestAtlas_RankPlaces_OrdersByLoadThenByPlaceID(t *testing.T) {
	a := NewLocal("node-a", nil, 0)
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, AgentID: 0, Role: "$worker"})
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 2, AgentID: 0, Role: "$worker"})
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 3, AgentID: 0, Role: "$worker"})

	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 2, FID: "fid-x", AgentID: 10, Role: "$agent"})

	ranked := a.RankPlaces(map[string]bool{"0": true})
	require.Equal(t, []string{"1", "3", "2"}, ranked, "worker 2 carries one real deployment so it ranks last")
}

func TestAtlas_RemoveByPlace_EvictsSpecialRowsTooSoPlaceDisappears(t *testing.T) {
	a := NewLocal("node-a", nil, 0)
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, AgentID: 0, Role: "$worker"})

	removed := a.RemoveByPlace("1")
	assert.Len(t, removed, 1)

	ranked := a.RankPlaces(nil)
	assert.NotContains(t, ranked, "1", "an evicted place's special row must not keep it alive in byPlace")
}

func TestAtlas_RemoveByFID_DecrementsPlaceButLeavesPlaceIfOthersRemain(t *testing.T) {
	a := newAtlas(PlaceWorker, "0")
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, AgentID: 0, Role: "$worker"}) // special
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, FID: "fid-a", AgentID: 5, Role: "$agent"})

	a.RemoveByFID("fid-a")

	ranked := a.RankPlaces(nil)
	assert.Contains(t, ranked, "1", "the place's special row keeps it registered after its only agent is removed")
	assert.Equal(t, 0, a.placeLoad()["1"])
}

func TestAtlas_RecordCounts_ExcludesSpecialRows(t *testing.T) {
	a := NewLocal("node-a", nil, 0)
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, FID: "fid-a", AgentID: 5, Role: "$agent"})
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, AgentID: 0, Role: "$worker"})

	counts := a.RecordCounts()
	assert.Equal(t, map[string]int{"$agent": 1}, counts)
}

func TestAtlas_FindAll_Priority_SelfPlaceSortsFirst(t *testing.T) {
	a := NewGlobal("node-a", map[string][]types.RoutingRecord{
		"node-a": {{Node: "node-a", Worker: 1, FID: "fid-1", AgentID: 20, Role: "$agent"}},
		"node-b": {{Node: "node-b", Worker: 1, FID: "fid-2", AgentID: 20, Role: "$agent"}},
	}, map[string]int{"node-a": 1, "node-b": 1})

	all := a.FindAll(20, "$agent")
	require.Len(t, all, 2)
	assert.Equal(t, "node-a", all[0].Node, "query issued from node-a must rank its own deployment first")
}

func TestAtlas_FindFirst_NoDeployment(t *testing.T) {
	a := NewLocal("node-a", nil, 0)
	_, ok := a.FindFirst(999, "$agent")
	assert.False(t, ok)
}

func TestAtlas_Insert_ReplacesExistingRecordForSameFID(t *testing.T) {
	a := newAtlas(PlaceWorker, "0")
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 1, FID: "fid-a", AgentID: 5, Role: "$agent"})
	a.Insert(types.RoutingRecord{Node: "node-a", Worker: 2, FID: "fid-a", AgentID: 5, Role: "$agent"})

	r, ok := a.FindByFID("fid-a")
	require.True(t, ok)
	assert.Equal(t, 2, r.Worker)

	all := a.FindAll(5, "$agent")
	assert.Len(t, all, 1, "re-inserting the same fid must not leave a stale duplicate record behind")
}
