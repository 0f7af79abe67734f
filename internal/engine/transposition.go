package engine

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/hailam/othello/internal/board"
)

// TTFlag indicates the type of bound stored in the transposition table.
type TTFlag uint8

const (
	TTExact      TTFlag = iota // Exact score
	TTLowerBound               // Failed high (beta cutoff)
	TTUpperBound               // Failed low
)

func (f TTFlag) String() string {
	switch f {
	case TTExact:
		return "exact"
	case TTLowerBound:
		return "lower"
	case TTUpperBound:
		return "upper"
	}
	return "unknown"
}

// Number of shards for TT locking (power of 2 for fast modulo)
const (
	ttShardCount = 256
	ttShardMask  = ttShardCount - 1
)

// ttBucketSize is the number of entries sharing one hash index.
const ttBucketSize = 4

// ttEntrySize is the in-memory size of a TTEntry in bytes.
const ttEntrySize = 32

// TTEntry is one stored search result. The full position is kept as the key,
// so a probe never returns an entry for a different position.
type TTEntry struct {
	Key      board.Position
	Score    float64
	Depth    int8
	Flag     TTFlag
	BestMove board.Square
	gen      uint32
}

// TranspositionTable caches search results keyed by position. It is safe for
// concurrent use: entries are grouped in buckets and each bucket is guarded
// by one of a fixed set of mutexes.
type TranspositionTable struct {
	entries []TTEntry
	shards  [ttShardCount]sync.Mutex
	buckets uint64
	mask    uint64

	// gen marks entries written since the last Clear. Entries from older
	// generations are treated as empty.
	gen atomic.Uint32
}

// NewTranspositionTable creates a transposition table with the given size in MB.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	if sizeMB < 1 {
		sizeMB = 1
	}
	numEntries := uint64(sizeMB) * 1024 * 1024 / ttEntrySize
	buckets := roundDownToPowerOf2(numEntries / ttBucketSize)
	if buckets == 0 {
		buckets = 1
	}

	tt := &TranspositionTable{
		entries: make([]TTEntry, buckets*ttBucketSize),
		buckets: buckets,
		mask:    buckets - 1,
	}
	tt.gen.Store(1)
	return tt
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// hashPosition mixes both bitboards into a table index.
func hashPosition(pos board.Position) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(pos.Mover))
	binary.LittleEndian.PutUint64(buf[8:], uint64(pos.Opponent))
	return xxhash.Sum64(buf[:])
}

// locate returns the first entry index of the bucket for pos and the shard
// guarding it.
func (tt *TranspositionTable) locate(pos board.Position) (uint64, *sync.Mutex) {
	bucket := hashPosition(pos) & tt.mask
	return bucket * ttBucketSize, &tt.shards[bucket&ttShardMask]
}

// Probe looks up a position in the transposition table.
// Returns the entry and true if found, otherwise returns empty entry and false.
func (tt *TranspositionTable) Probe(pos board.Position) (TTEntry, bool) {
	start, mu := tt.locate(pos)
	gen := tt.gen.Load()

	mu.Lock()
	defer mu.Unlock()
	for i := start; i < start+ttBucketSize; i++ {
		if e := tt.entries[i]; e.gen == gen && e.Key == pos {
			return e, true
		}
	}
	return TTEntry{}, false
}

// Store saves a search result for pos.
//
// An existing entry for the same position is only replaced by a result of
// equal or greater depth. Otherwise the first unused slot of the bucket is
// taken, or the shallowest entry is evicted.
func (tt *TranspositionTable) Store(pos board.Position, depth int, score float64, flag TTFlag, bestMove board.Square) {
	start, mu := tt.locate(pos)
	gen := tt.gen.Load()

	mu.Lock()
	defer mu.Unlock()

	var victim *TTEntry
	for i := start; i < start+ttBucketSize; i++ {
		e := &tt.entries[i]
		if e.gen != gen {
			if victim == nil || victim.gen == gen {
				victim = e
			}
			continue
		}
		if e.Key == pos {
			if depth < int(e.Depth) {
				return
			}
			victim = e
			break
		}
		if victim == nil || (victim.gen == gen && e.Depth < victim.Depth) {
			victim = e
		}
	}

	*victim = TTEntry{
		Key:      pos,
		Score:    score,
		Depth:    int8(depth),
		Flag:     flag,
		BestMove: bestMove,
		gen:      gen,
	}
}

// Clear empties the table in constant time by starting a new generation.
func (tt *TranspositionTable) Clear() {
	if tt.gen.Add(1) != 0 {
		return
	}
	// The generation counter wrapped: wipe the slots so stale entries from
	// generation 1 cannot resurface.
	for i := range tt.shards {
		tt.shards[i].Lock()
	}
	clear(tt.entries)
	tt.gen.Store(1)
	for i := range tt.shards {
		tt.shards[i].Unlock()
	}
}

// HashFull returns the permille (parts per thousand) of the table that is used.
func (tt *TranspositionTable) HashFull() int {
	sampleSize := 1000
	if uint64(sampleSize) > uint64(len(tt.entries)) {
		sampleSize = len(tt.entries)
	}

	gen := tt.gen.Load()
	used := 0
	for i := 0; i < sampleSize; i++ {
		mu := &tt.shards[(uint64(i)/ttBucketSize)&ttShardMask]
		mu.Lock()
		if tt.entries[i].gen == gen {
			used++
		}
		mu.Unlock()
	}

	return used * 1000 / sampleSize
}

// Size returns the number of entries in the table.
func (tt *TranspositionTable) Size() uint64 {
	return uint64(len(tt.entries))
}
