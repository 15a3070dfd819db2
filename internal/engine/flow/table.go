package flow

import (
	"FlowSentinel/internal/model"
	"sync"
)

const defaultShardCount = 256

// shard is a part of the sharded flow map, containing its own map and a mutex.
type shard struct {
	flows map[string]*Record
	mu    sync.Mutex
}

// Entry is a point-in-time view of one table entry, as returned by Snapshot.
type Entry struct {
	ID       string
	LastSeen int64
	shard    uint32
}

// Expired is a flow removed from the table together with its final feature vector.
// Ownership of Record passes to the caller.
type Expired struct {
	ID       string
	Record   *Record
	Features []float64
}

// Table maps flow identifiers to their records. Both directions of a
// conversation hash to the same shard, so lookup-or-create and the record update
// happen inside a single short critical section.
type Table struct {
	shards     []*shard
	shardCount uint32
}

// NewTable creates a table with numShards shards (256 when out of range).
func NewTable(numShards uint32) *Table {
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	t := &Table{
		shards:     make([]*shard, numShards),
		shardCount: numShards,
	}
	for i := range t.shards {
		t.shards[i] = &shard{flows: make(map[string]*Record)}
	}
	return t
}

// Ingest routes a packet to its flow, creating the flow under the forward
// identifier when neither direction is known yet. It returns the identifier the
// flow is stored under and whether the flow was created by this packet.
func (t *Table) Ingest(p *model.PacketInfo) (id string, created bool, err error) {
	forward, reverse, err := ResolveKeys(p)
	if err != nil {
		return "", false, err
	}

	s := t.shards[conversationHash(forward, reverse)%t.shardCount]
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.flows[forward]; ok {
		r.AddPacket(p)
		return forward, false, nil
	}
	if r, ok := s.flows[reverse]; ok {
		r.AddPacket(reoriented(p))
		return reverse, false, nil
	}
	s.flows[forward] = NewRecord(forward, p)
	return forward, true, nil
}

// reoriented returns a copy of p with the client and server roles swapped, for
// packets whose roles were guessed opposite to those of the stored flow.
func reoriented(p *model.PacketInfo) *model.PacketInfo {
	q := *p
	q.Client, q.Server = p.Server, p.Client
	q.FromClient = !p.FromClient
	return &q
}

// Snapshot copies the identifier and last-seen time of every flow. Shards are
// copied one at a time and concurrently; no lock is held across shards, so the
// result is only approximately consistent.
func (t *Table) Snapshot() []Entry {
	parts := make([][]Entry, t.shardCount)
	var wg sync.WaitGroup
	wg.Add(int(t.shardCount))

	for i := 0; i < int(t.shardCount); i++ {
		go func(i int) {
			defer wg.Done()
			s := t.shards[i]
			s.mu.Lock()
			entries := make([]Entry, 0, len(s.flows))
			for id, r := range s.flows {
				entries = append(entries, Entry{ID: id, LastSeen: r.lastSeen, shard: uint32(i)})
			}
			s.mu.Unlock()
			parts[i] = entries
		}(i)
	}
	wg.Wait()

	var total int
	for _, p := range parts {
		total += len(p)
	}
	all := make([]Entry, 0, total)
	for _, p := range parts {
		all = append(all, p...)
	}
	return all
}

// Evict removes the flow named by e if it is still present and has been idle for
// more than timeout (µs) at now (µs). The staleness check is repeated under the
// shard lock, so a flow that received a packet after the snapshot stays.
func (t *Table) Evict(e Entry, now, timeout int64) (Expired, bool) {
	s := t.shards[e.shard%t.shardCount]
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.flows[e.ID]
	if !ok || now-r.lastSeen <= timeout {
		return Expired{}, false
	}
	delete(s.flows, e.ID)
	return Expired{ID: e.ID, Record: r, Features: r.FeatureVector()}, true
}

// Drain removes every flow from the table.
func (t *Table) Drain() []Expired {
	var out []Expired
	for _, s := range t.shards {
		s.mu.Lock()
		for id, r := range s.flows {
			out = append(out, Expired{ID: id, Record: r, Features: r.FeatureVector()})
		}
		s.flows = make(map[string]*Record)
		s.mu.Unlock()
	}
	return out
}

// Len returns the number of flows currently tracked.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.flows)
		s.mu.Unlock()
	}
	return n
}

// features returns the current feature vector of a live flow.
func (t *Table) features(id string) ([]float64, bool) {
	for _, s := range t.shards {
		s.mu.Lock()
		r, ok := s.flows[id]
		var v []float64
		if ok {
			v = r.FeatureVector()
		}
		s.mu.Unlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}
