package atlas

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/mwojnars/schemat-sub000/pkg/events"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// Level selects the granularity of "place" an Atlas indexes by.
type Level int

const (
	// PlaceWorker is used by LocalAtlas: a place is a worker index.
	PlaceWorker Level = iota
	// PlaceNode is used by GlobalAtlas: a place is a node id.
	PlaceNode
)

func keyOf(id int64, role string) string {
	return fmt.Sprintf("%d_%s", id, role)
}

// Atlas is the indexed routing table of spec §4.5. Self names the
// place (worker index as a string, or node id) that should sort first
// in priority-ordered query results.
type Atlas struct {
	level Level
	self  string

	mu      sync.RWMutex
	byFID   map[string]types.RoutingRecord
	byKey   map[string][]types.RoutingRecord // "{id}_{role}"
	byID    map[int64][]types.RoutingRecord
	byPlace map[string]int // place -> record count, incl. special (fid-less) rows

	broker *events.Broker
}

// SetBroker wires an event broker to publish atlas.inserted/removed
// to. Nil (the default) disables publishing.
func (a *Atlas) SetBroker(broker *events.Broker) { a.broker = broker }

func (a *Atlas) publish(eventType events.EventType, r types.RoutingRecord) {
	if a.broker == nil {
		return
	}
	a.broker.Publish(&events.Event{
		Type: eventType,
		Metadata: map[string]string{
			"agent_id": fmt.Sprintf("%d", r.AgentID),
			"role":     r.Role,
			"node":     r.Node,
			"worker":   fmt.Sprintf("%d", r.Worker),
			"fid":      r.FID,
		},
	})
}

func newAtlas(level Level, self string) *Atlas {
	return &Atlas{
		level:   level,
		self:    self,
		byFID:   make(map[string]types.RoutingRecord),
		byKey:   make(map[string][]types.RoutingRecord),
		byID:    make(map[int64][]types.RoutingRecord),
		byPlace: make(map[string]int),
	}
}

// NewLocal builds LocalAtlas(node): PLACE=worker, seeded with every
// agent row in node.agents plus a synthetic $master pseudo-record.
func NewLocal(nodeID string, agents []types.RoutingRecord, selfWorker int) *Atlas {
	a := newAtlas(PlaceWorker, strconv.Itoa(selfWorker))
	for _, r := range agents {
		a.Insert(r)
	}
	a.Insert(types.RoutingRecord{Node: nodeID, Worker: 0, AgentID: 0, Role: "$master"})
	return a
}

// NewGlobal builds GlobalAtlas(nodes): PLACE=node, seeded with the
// union of every node's agent rows plus per-node master/worker self
// records.
func NewGlobal(selfNodeID string, nodes map[string][]types.RoutingRecord, numWorkers map[string]int) *Atlas {
	a := newAtlas(PlaceNode, selfNodeID)
	for nodeID, agents := range nodes {
		for _, r := range agents {
			a.Insert(r)
		}
		a.Insert(types.RoutingRecord{Node: nodeID, Worker: 0, AgentID: 0, Role: "$master"})
		for w := 1; w <= numWorkers[nodeID]; w++ {
			a.Insert(types.RoutingRecord{Node: nodeID, Worker: w, AgentID: 0, Role: "$worker"})
		}
	}
	return a
}

func (a *Atlas) placeOf(r types.RoutingRecord) string {
	if a.level == PlaceWorker {
		return strconv.Itoa(r.Worker)
	}
	return r.Node
}

// Insert adds or replaces a routing record. A record with a non-empty
// FID that already exists is removed first, so a fid appears in at
// most one record (spec §3 invariant).
func (a *Atlas) Insert(r types.RoutingRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.FID != "" {
		if existing, ok := a.byFID[r.FID]; ok {
			a.removeLocked(existing)
		}
	}

	a.byFID_put(r)
	key := keyOf(r.AgentID, r.Role)
	a.byKey[key] = append(a.byKey[key], r)
	a.byID[r.AgentID] = append(a.byID[r.AgentID], r)
	a.byPlace[a.placeOf(r)]++
	a.publish(events.EventAtlasInserted, r)
}

func (a *Atlas) byFID_put(r types.RoutingRecord) {
	if r.FID != "" {
		a.byFID[r.FID] = r
	}
}

// RemoveByFID removes the record with the given fid, if any.
func (a *Atlas) RemoveByFID(fid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.byFID[fid]; ok {
		a.removeLocked(r)
	}
}

// RemoveByPlace drops every record whose place (worker index for a
// LocalAtlas, node id for a GlobalAtlas) equals place, and returns the
// removed records. Used by the reconciler to evict a node's placements
// once it's declared down, so rank_places stops offering it and
// AdjustReplicas sees the resulting shortfall.
func (a *Atlas) RemoveByPlace(place string) []types.RoutingRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	var victims []types.RoutingRecord
	for _, records := range a.byID {
		for _, r := range records {
			if a.placeOf(r) == place {
				victims = append(victims, r)
			}
		}
	}
	for _, r := range victims {
		a.removeLocked(r)
	}
	return victims
}

func (a *Atlas) removeLocked(r types.RoutingRecord) {
	delete(a.byFID, r.FID)
	key := keyOf(r.AgentID, r.Role)
	a.byKey[key] = removeRecord(a.byKey[key], r)
	if len(a.byKey[key]) == 0 {
		delete(a.byKey, key)
	}
	a.publish(events.EventAtlasRemoved, r)
	a.byID[r.AgentID] = removeRecord(a.byID[r.AgentID], r)
	if len(a.byID[r.AgentID]) == 0 {
		delete(a.byID, r.AgentID)
	}
	place := a.placeOf(r)
	if a.byPlace[place] <= 1 {
		delete(a.byPlace, place)
	} else {
		a.byPlace[place]--
	}
}

func removeRecord(list []types.RoutingRecord, target types.RoutingRecord) []types.RoutingRecord {
	out := list[:0]
	for _, r := range list {
		if r.FID == target.FID && r.Node == target.Node && r.Worker == target.Worker {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FindByFID returns the record for fid, if present.
func (a *Atlas) FindByFID(fid string) (types.RoutingRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.byFID[fid]
	return r, ok
}

// FindAll returns every record for agentID (any role when role==""),
// priority-ordered with this atlas's home place first.
func (a *Atlas) FindAll(agentID int64, role string) []types.RoutingRecord {
	a.mu.RLock()
	var src []types.RoutingRecord
	if role == "" {
		src = append(src, a.byID[agentID]...)
	} else {
		src = append(src, a.byKey[keyOf(agentID, role)]...)
	}
	a.mu.RUnlock()
	return a.prioritize(src)
}

// FindFirst returns the priority-first record for (agentID, role), if
// any deployment exists.
func (a *Atlas) FindFirst(agentID int64, role string) (types.RoutingRecord, bool) {
	all := a.FindAll(agentID, role)
	if len(all) == 0 {
		return types.RoutingRecord{}, false
	}
	return all[0], true
}

func (a *Atlas) prioritize(records []types.RoutingRecord) []types.RoutingRecord {
	out := make([]types.RoutingRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		iLocal := a.placeOf(out[i]) == a.self
		jLocal := a.placeOf(out[j]) == a.self
		if iLocal != jLocal {
			return iLocal
		}
		return false
	})
	return out
}

// RecordCounts returns the number of fid-bearing records per role, for
// metrics collection.
func (a *Atlas) RecordCounts() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	counts := make(map[string]int)
	for _, r := range a.byFID {
		if r.IsSpecial() {
			continue
		}
		counts[r.Role]++
	}
	return counts
}

// placeLoad counts non-special (fid-bearing) records per place.
func (a *Atlas) placeLoad() map[string]int {
	load := make(map[string]int)
	for _, r := range a.byFID {
		if r.IsSpecial() {
			continue
		}
		load[a.placeOf(r)]++
	}
	return load
}

// RankPlaces orders every known place by increasing load (frame
// count), excluding special rows from the count and excluding any
// place named in exclude from the result entirely. Ties break by
// place id (spec §4.5).
func (a *Atlas) RankPlaces(exclude map[string]bool) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	load := a.placeLoad()
	var places []string
	for p := range a.byPlace {
		if exclude != nil && exclude[p] {
			continue
		}
		places = append(places, p)
	}

	sort.Slice(places, func(i, j int) bool {
		li, lj := load[places[i]], load[places[j]]
		if li != lj {
			return li < lj
		}
		return places[i] < places[j]
	})
	return places
}
