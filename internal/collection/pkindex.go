package collection

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/nilotpal/vortexdb/internal/schema"
)

// pkShardCount is the number of independently locked shards the PK→DocId
// map is split across, each shard chosen by the xxh3 hash of the key. The
// write path's lookups already run under Collection.writeMu; KnnSearch and
// GetStats do not read this map.
const pkShardCount = 32

// pkLocation is where one live primary key currently lives: which segment
// (by stable slot in Collection.segments) owns its doc-id, and the LSN it
// was last written with (kept alongside DocId so UPDATE's lsn_check doesn't
// need to re-read the forward store on every write).
type pkLocation struct {
	segmentIdx int
	docID      schema.DocId
	lsn        schema.LSN
}

type pkShard struct {
	mu sync.RWMutex
	m  map[schema.PrimaryKey]pkLocation
}

// pkIndex is the collection-wide PK→DocId map (spec §3: "the mapping is
// authoritative and used by UPDATE and DELETE"), sharded by an xxh3 hash of
// the primary key.
type pkIndex struct {
	shards [pkShardCount]*pkShard
}

func newPKIndex() *pkIndex {
	idx := &pkIndex{}
	for i := range idx.shards {
		idx.shards[i] = &pkShard{m: make(map[schema.PrimaryKey]pkLocation)}
	}
	return idx
}

func (p *pkIndex) shardFor(pk schema.PrimaryKey) *pkShard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pk))
	h := xxh3.Hash(buf[:])
	return p.shards[h%uint64(pkShardCount)]
}

func (p *pkIndex) Get(pk schema.PrimaryKey) (pkLocation, bool) {
	s := p.shardFor(pk)
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.m[pk]
	return loc, ok
}

func (p *pkIndex) Set(pk schema.PrimaryKey, loc pkLocation) {
	s := p.shardFor(pk)
	s.mu.Lock()
	s.m[pk] = loc
	s.mu.Unlock()
}

func (p *pkIndex) Delete(pk schema.PrimaryKey) {
	s := p.shardFor(pk)
	s.mu.Lock()
	delete(s.m, pk)
	s.mu.Unlock()
}

// Len returns the number of live primary keys tracked.
func (p *pkIndex) Len() int {
	n := 0
	for _, s := range p.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
