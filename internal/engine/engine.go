// Package engine implements a time-bounded Othello search: parallel
// iterative deepening over the root moves with negamax alpha-beta and a
// shared transposition table.
package engine

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/othello/internal/board"
)

// Config holds engine settings.
type Config struct {
	MaxDepth       int  // Deepest iteration, capped by the empty squares left
	Threads        int  // Root workers per iteration; 1 searches serially
	TableSizeMB    int  // Transposition table size
	CollectMetrics bool // Fill the optional Stats counters
	Logger         zerolog.Logger
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxDepth:    MaxDepth,
		Threads:     runtime.NumCPU(),
		TableSizeMB: 64,
		Logger:      zerolog.Nop(),
	}
}

func (c Config) normalized() Config {
	if c.MaxDepth <= 0 || c.MaxDepth > MaxDepth {
		c.MaxDepth = MaxDepth
	}
	c.Threads = max(c.Threads, 1)
	c.TableSizeMB = max(c.TableSizeMB, 1)
	return c
}

// SearchInfo is reported after each completed iteration.
type SearchInfo struct {
	Depth    int
	Score    float64
	Move     board.Square
	Nodes    uint64
	Time     time.Duration
	HashFull int // Permille of hash table used
}

// Result is the outcome of a search.
type Result struct {
	Move  board.Square
	Score float64 // From the mover's perspective; 0 for forced moves
	Depth int     // Deepest completed iteration; 0 when no search ran
	Time  time.Duration
	Stats Stats
}

// rootMove is one candidate at the root and its score at the last completed
// depth.
type rootMove struct {
	move  board.Square
	child board.Position
	score float64
	next  float64
	done  bool
}

// Engine is the Othello search engine. Searches on one Engine are
// serialized; use separate engines to search concurrently.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	tt    *TranspositionTable
	tm    *TimeManager
	abort atomic.Bool
	log   zerolog.Logger

	// Callbacks
	OnInfo func(SearchInfo)
}

// NewEngine creates an engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.normalized()
	return &Engine{
		cfg: cfg,
		tt:  NewTranspositionTable(cfg.TableSizeMB),
		tm:  NewTimeManager(),
		log: cfg.Logger.With().Str("component", "engine").Logger(),
	}
}

// Config returns the current settings.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetMaxDepth changes the iteration cap. Values outside 1..64 reset it to 64.
func (e *Engine) SetMaxDepth(depth int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MaxDepth = depth
	e.cfg = e.cfg.normalized()
}

// SetThreads changes the number of root workers.
func (e *Engine) SetThreads(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Threads = max(n, 1)
}

// SetCollectMetrics toggles the optional search counters.
func (e *Engine) SetCollectMetrics(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.CollectMetrics = on
}

// TurnDecision chooses a move for the side to move within roughly
// timeBudgetMs milliseconds. It returns board.Pass when the mover has no
// legal move.
func (e *Engine) TurnDecision(pos board.Position, timeBudgetMs int) board.Square {
	limits := Limits{MoveTime: time.Duration(timeBudgetMs) * time.Millisecond}
	return e.Search(context.Background(), pos, limits).Move
}

// Search runs iterative deepening on pos.
//
// Depth 1 always completes, whatever the limits, so a legal move is always
// returned when one exists. Deeper iterations are abandoned at the deadline,
// on Stop or when ctx is done, and the result of the last completed
// iteration is returned.
func (e *Engine) Search(ctx context.Context, pos board.Position, limits Limits) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	moves := pos.ValidMoves()
	switch moves.PopCount() {
	case 0:
		e.log.Error().Str("position", pos.BoardString()).Msg("no-legal-moves")
		return Result{Move: board.Pass}
	case 1:
		e.log.Debug().Str("move", moves.LSB().String()).Msg("forced-move")
		return Result{Move: moves.LSB()}
	}

	e.tt.Clear()
	e.abort.Store(false)
	e.tm.Init(limits)
	stop := context.AfterFunc(ctx, e.Stop)
	defer stop()

	maxDepth := min(e.cfg.MaxDepth, pos.Empties())
	if limits.Depth > 0 {
		maxDepth = min(maxDepth, limits.Depth)
	}

	root := make([]rootMove, 0, moves.PopCount())
	for _, sq := range moves.Squares() {
		root = append(root, rootMove{move: sq, child: pos.Play(sq)})
	}

	result := Result{Move: root[0].move}
	var stats Stats

	for depth := 1; depth <= maxDepth; depth++ {
		if depth > 1 && (e.abort.Load() || e.tm.ShouldStop() || ctx.Err() != nil) {
			break
		}

		iter, ok := e.searchDepth(root, depth)
		stats.merge(iter)
		if !ok {
			stats.AbortedDepths++
			e.log.Debug().Int("depth", depth).Dur("elapsed", e.tm.Elapsed()).Msg("depth-aborted")
			break
		}

		// Best first, so the next iteration dispatches it first.
		sort.SliceStable(root, func(i, j int) bool { return root[i].score > root[j].score })
		best := root[0]
		e.tt.Store(pos, depth, best.score, TTExact, best.move)

		result.Move = best.move
		result.Score = best.score
		result.Depth = depth
		stats.Depth = depth

		e.log.Debug().
			Int("depth", depth).
			Str("move", best.move.String()).
			Float64("score", best.score).
			Uint64("nodes", stats.Nodes).
			Dur("elapsed", e.tm.Elapsed()).
			Msg("depth-complete")

		if e.OnInfo != nil {
			e.OnInfo(SearchInfo{
				Depth:    depth,
				Score:    best.score,
				Move:     best.move,
				Nodes:    stats.Nodes,
				Time:     e.tm.Elapsed(),
				HashFull: e.tt.HashFull(),
			})
		}

		// A decided game will not change with more depth.
		if IsTerminalScore(best.score) {
			break
		}
	}

	result.Time = e.tm.Elapsed()
	result.Stats = stats
	e.log.Info().
		Str("move", result.Move.String()).
		Float64("score", result.Score).
		Object("stats", stats).
		Dur("elapsed", result.Time).
		Msg("search-complete")
	return result
}

// searchDepth scores every root move at depth plies. Root moves are handed
// out to a pool of workers in their current order; Wait is the barrier
// between iterations. Scores are committed only when every move finished.
func (e *Engine) searchDepth(root []rootMove, depth int) (Stats, bool) {
	// The first iteration ignores the deadline and external stops.
	abort := &e.abort
	checkTime := true
	if depth == 1 {
		abort = new(atomic.Bool)
		checkTime = false
	}
	deadline, timed := e.tm.Deadline()
	checkTime = checkTime && timed

	jobs := make(chan int, len(root))
	for i := range root {
		root[i].done = false
		jobs <- i
	}
	close(jobs)

	threads := min(e.cfg.Threads, len(root))
	workers := make([]*worker, threads)
	var g errgroup.Group
	for id := range workers {
		w := newWorker(id, e.tt, abort, deadline, checkTime, e.cfg.CollectMetrics)
		workers[id] = w
		g.Go(func() error {
			for i := range jobs {
				rm := &root[i]
				v, ok := w.negamax(rm.child, depth-1, -Infinity, Infinity)
				if !ok {
					return nil
				}
				rm.next = -v
				rm.done = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var stats Stats
	for _, w := range workers {
		stats.merge(w.stats)
	}

	for i := range root {
		if !root[i].done {
			return stats, false
		}
	}
	for i := range root {
		root[i].score = root[i].next
	}
	return stats, true
}

// Stop aborts the running search. The last completed iteration's move is
// still returned.
func (e *Engine) Stop() {
	e.abort.Store(true)
}

// Clear clears the transposition table.
func (e *Engine) Clear() {
	e.tt.Clear()
}

// Evaluate returns the static evaluation of a position.
func (e *Engine) Evaluate(pos board.Position) float64 {
	return Evaluate(pos)
}
