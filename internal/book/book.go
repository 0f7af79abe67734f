// Package book stores completed root decisions so that positions seen before
// can be answered without searching.
package book

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/hailam/othello/internal/board"
)

// MinDepth is the shallowest completed search worth recording.
const MinDepth = 8

// ErrIllegalMove is returned when recording a move the mover cannot play.
var ErrIllegalMove = errors.New("illegal book move")

const (
	keyPrefix  = "book/"
	keySize    = len(keyPrefix) + 16
	entrySize  = 12
	recordSize = 16 + entrySize
)

// Entry is the stored decision for one position.
type Entry struct {
	Move   board.Square
	Depth  int
	Score  float64
	Weight uint16 // Times this move was recorded
}

// Book is an opening book kept in BadgerDB under its own key prefix and
// fronted by an in-memory cache. Positions are stored in canonical form, so
// one entry answers all eight symmetric images.
type Book struct {
	db    *badger.DB
	cache *ristretto.Cache[string, Entry]
	log   zerolog.Logger
}

// New creates a book on db. The caller keeps ownership of db.
func New(db *badger.DB, logger zerolog.Logger) (*Book, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("book cache: %w", err)
	}

	return &Book{
		db:    db,
		cache: cache,
		log:   logger.With().Str("component", "book").Logger(),
	}, nil
}

// Close releases the cache.
func (b *Book) Close() {
	b.cache.Close()
}

func encodeKey(pos board.Position) []byte {
	key := make([]byte, keySize)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], uint64(pos.Mover))
	binary.BigEndian.PutUint64(key[len(keyPrefix)+8:], uint64(pos.Opponent))
	return key
}

func decodePosition(buf []byte) board.Position {
	return board.Position{
		Mover:    board.Bitboard(binary.BigEndian.Uint64(buf[:8])),
		Opponent: board.Bitboard(binary.BigEndian.Uint64(buf[8:16])),
	}
}

// Entry format:
// 1 byte: move square
// 1 byte: depth
// 2 bytes: weight (big-endian)
// 8 bytes: score bits (big-endian)
func encodeEntry(e Entry) []byte {
	buf := make([]byte, entrySize)
	buf[0] = byte(e.Move)
	buf[1] = byte(e.Depth)
	binary.BigEndian.PutUint16(buf[2:4], e.Weight)
	binary.BigEndian.PutUint64(buf[4:12], math.Float64bits(e.Score))
	return buf
}

func decodeEntry(buf []byte) (Entry, error) {
	if len(buf) != entrySize {
		return Entry{}, fmt.Errorf("book entry: %d bytes, want %d", len(buf), entrySize)
	}
	return Entry{
		Move:   board.Square(buf[0]),
		Depth:  int(buf[1]),
		Weight: binary.BigEndian.Uint16(buf[2:4]),
		Score:  math.Float64frombits(binary.BigEndian.Uint64(buf[4:12])),
	}, nil
}

// lookup returns the canonical entry for a canonical position.
func (b *Book) lookup(canon board.Position) (Entry, bool, error) {
	key := encodeKey(canon)
	if e, ok := b.cache.Get(string(key)); ok {
		return e, true, nil
	}

	var entry Entry
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = decodeEntry(val)
			found = err == nil
			return err
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("book lookup: %w", err)
	}
	if found {
		b.cache.Set(string(key), entry, 1)
	}
	return entry, found, nil
}

// Probe returns the recorded decision for pos. The move is expressed in
// pos's own orientation and is checked against the legal moves.
func (b *Book) Probe(pos board.Position) (Entry, bool) {
	if b == nil {
		return Entry{}, false
	}

	canon, sym := canonical(pos)
	e, ok, err := b.lookup(canon)
	if err != nil {
		b.log.Warn().Err(err).Msg("book-probe-failed")
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	if e.Move.IsValid() {
		e.Move = squareFrom[sym][e.Move]
	}
	legal := pos.ValidMoves()
	if (e.Move == board.Pass && legal != 0) || (e.Move != board.Pass && !legal.IsSet(e.Move)) {
		b.log.Warn().Str("move", e.Move.String()).Msg("book-move-illegal")
		return Entry{}, false
	}
	return e, true
}

// Record stores move as the decision for pos. A deeper result replaces a
// shallower one; recording the stored move again raises its weight.
func (b *Book) Record(pos board.Position, move board.Square, depth int, score float64) error {
	legal := pos.ValidMoves()
	if move == board.Pass || !legal.IsSet(move) {
		return fmt.Errorf("%w: %s", ErrIllegalMove, move)
	}

	canon, sym := canonical(pos)
	cmove := squareTo[sym][move]

	prev, found, err := b.lookup(canon)
	if err != nil {
		return err
	}

	next := Entry{Move: cmove, Depth: depth, Score: score, Weight: 1}
	switch {
	case found && prev.Move == cmove:
		next.Weight = prev.Weight
		if next.Weight < math.MaxUint16 {
			next.Weight++
		}
		if depth < prev.Depth {
			next.Depth, next.Score = prev.Depth, prev.Score
		}
	case found && depth < prev.Depth:
		return nil
	}

	return b.put(canon, next)
}

func (b *Book) put(canon board.Position, e Entry) error {
	key := encodeKey(canon)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, encodeEntry(e))
	})
	if err != nil {
		return fmt.Errorf("book record: %w", err)
	}

	// Set may be refused by the admission policy; drop the old value first
	// so a refused Set cannot leave it behind.
	b.cache.Del(string(key))
	b.cache.Set(string(key), e, 1)
	b.cache.Wait()
	b.log.Debug().Str("move", e.Move.String()).Int("depth", e.Depth).Msg("book-record")
	return nil
}

// Len returns the number of stored positions.
func (b *Book) Len() (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// CacheHitRate returns the cache hit rate as a percentage.
func (b *Book) CacheHitRate() float64 {
	return b.cache.Metrics.Ratio() * 100
}

// Export writes every entry as a fixed-size record:
// 8 bytes: mover (big-endian)
// 8 bytes: opponent (big-endian)
// 12 bytes: entry as stored
func (b *Book) Export(w io.Writer) (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) != entrySize {
				return fmt.Errorf("entry %x: %d bytes", item.Key(), len(val))
			}

			rec := make([]byte, 0, recordSize)
			rec = append(rec, item.Key()[len(keyPrefix):]...)
			rec = append(rec, val...)
			if _, err := w.Write(rec); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("book export: %w", err)
	}
	return n, nil
}

// Import reads records in the Export format, replacing stored entries for
// the same positions.
func (b *Book) Import(r io.Reader) (int, error) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	var rec [recordSize]byte
	n := 0
	for {
		_, err := io.ReadFull(r, rec[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("book import: record %d: %w", n, err)
		}

		pos := decodePosition(rec[:16])
		if err := pos.Validate(); err != nil {
			return n, fmt.Errorf("book import: record %d: %w", n, err)
		}
		e, err := decodeEntry(rec[16:])
		if err != nil {
			return n, fmt.Errorf("book import: record %d: %w", n, err)
		}

		canon, sym := canonical(pos)
		if e.Move.IsValid() {
			e.Move = squareTo[sym][e.Move]
		}
		if err := wb.Set(encodeKey(canon), encodeEntry(e)); err != nil {
			return n, fmt.Errorf("book import: %w", err)
		}
		n++
	}

	if err := wb.Flush(); err != nil {
		return n, fmt.Errorf("book import: %w", err)
	}
	b.cache.Clear()
	b.log.Info().Int("entries", n).Msg("book-imported")
	return n, nil
}
