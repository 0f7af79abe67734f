// Package protocol implements the line-oriented text interface of the
// engine: one command per line in, replies line by line out.
package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/hailam/othello/internal/board"
	"github.com/hailam/othello/internal/book"
	"github.com/hailam/othello/internal/engine"
	"github.com/hailam/othello/internal/storage"
)

// ErrUsage is returned for malformed command arguments.
var ErrUsage = errors.New("bad arguments")

// Options wires optional collaborators into the protocol.
type Options struct {
	Book        *book.Book           // nil disables the book
	Storage     *storage.Storage     // nil keeps settings in memory only
	Preferences *storage.Preferences // nil uses storage.DefaultPreferences
	Logger      zerolog.Logger
}

// Protocol drives an engine from a command stream.
type Protocol struct {
	engine   *engine.Engine
	book     *book.Book
	store    *storage.Storage
	prefs    *storage.Preferences
	position board.Position
	log      zerolog.Logger

	out   io.Writer
	outMu sync.Mutex

	// Search state
	searchDone chan struct{}
}

// New creates a protocol handler writing replies to out. The engine is
// configured from the preferences.
func New(eng *engine.Engine, out io.Writer, opts Options) *Protocol {
	prefs := opts.Preferences
	if prefs == nil {
		prefs = storage.DefaultPreferences()
	}

	p := &Protocol{
		engine:   eng,
		book:     opts.Book,
		store:    opts.Storage,
		prefs:    prefs,
		position: board.StartPosition(),
		log:      opts.Logger.With().Str("component", "protocol").Logger(),
		out:      out,
	}
	p.applyPreferences()
	return p
}

func (p *Protocol) applyPreferences() {
	p.engine.SetMaxDepth(p.prefs.MaxDepth)
	threads := p.prefs.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	p.engine.SetThreads(threads)
	p.engine.SetCollectMetrics(p.prefs.Metrics)
}

// Position returns the current position.
func (p *Protocol) Position() board.Position {
	return p.position
}

func (p *Protocol) printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// fail reports a command error to the peer and the log.
func (p *Protocol) fail(cmd string, err error) {
	p.log.Warn().Err(err).Str("command", cmd).Msg("command-failed")
	p.printf("info string error: %v", err)
}

// Run reads commands from in until "quit", end of input or ctx is done.
// Cancelling ctx returns promptly even while in has no data.
func (p *Protocol) Run(ctx context.Context, in io.Reader) error {
	defer p.handleStop()

	lines := make(chan string)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-quit:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return <-readErr
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "quit":
			return nil
		case "stop":
			p.handleStop()
			continue
		}

		// Everything else waits for a running search.
		p.wait()

		var err error
		switch cmd {
		case "isready":
			p.printf("readyok")
		case "position":
			err = p.handlePosition(args)
		case "go":
			err = p.handleGo(ctx, args)
		case "play":
			err = p.handlePlay(args)
		case "setoption":
			err = p.handleSetOption(args)
		case "new":
			p.engine.Clear()
			p.position = board.StartPosition()
		// Debug commands
		case "d":
			p.printf("%s", p.position.String())
		case "eval":
			p.printf("eval %s", formatScore(p.engine.Evaluate(p.position)))
		case "moves":
			p.printf("moves %s", board.MoveList(p.position.ValidMoves()))
		case "perft":
			err = p.handlePerft(args)
		default:
			err = fmt.Errorf("unknown command %q", cmd)
		}
		if err != nil {
			p.fail(cmd, err)
		}
	}
}

// wait blocks until the running search, if any, has printed its move.
func (p *Protocol) wait() {
	if p.searchDone != nil {
		<-p.searchDone
		p.searchDone = nil
	}
}

// handlePosition parses and sets up a position.
// Formats:
//   - position startpos [moves d3 c3 ...]
//   - position bitboard <mover> <opponent> [moves ...]
//   - position board <64 squares> [moves ...]
func (p *Protocol) handlePosition(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: position needs a form", ErrUsage)
	}

	setup, moves := args, []string(nil)
	if i := lo.IndexOf(args, "moves"); i >= 0 {
		setup, moves = args[:i], args[i+1:]
	}

	var pos board.Position
	var err error
	switch setup[0] {
	case "startpos":
		pos = board.StartPosition()
	case "bitboard":
		if len(setup) != 3 {
			return fmt.Errorf("%w: position bitboard <mover> <opponent>", ErrUsage)
		}
		pos, err = board.ParseBitboards(setup[1], setup[2])
	case "board":
		pos, err = board.ParseBoard(strings.Join(setup[1:], ""))
	default:
		return fmt.Errorf("%w: unknown position form %q", ErrUsage, setup[0])
	}
	if err != nil {
		return err
	}

	for _, s := range moves {
		if pos, err = playMove(pos, s); err != nil {
			return err
		}
	}

	p.position = pos
	return nil
}

// playMove parses s and plays it on pos, rejecting illegal moves.
func playMove(pos board.Position, s string) (board.Position, error) {
	sq, err := board.ParseSquare(s)
	if err != nil {
		return pos, err
	}

	legal := pos.ValidMoves()
	switch {
	case sq == board.Pass && legal != 0:
		return pos, fmt.Errorf("illegal move pass: %s available", board.MoveList(legal))
	case sq != board.Pass && !legal.IsSet(sq):
		return pos, fmt.Errorf("illegal move %s", sq)
	}
	return pos.Play(sq), nil
}

func (p *Protocol) handlePlay(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: play <square|pass>", ErrUsage)
	}
	pos, err := playMove(p.position, args[0])
	if err != nil {
		return err
	}
	p.position = pos
	if pos.GameOver() {
		p.printf("info string game over %+d", -pos.DiscDiff())
	}
	return nil
}

// goOptions holds parsed "go" command options.
type goOptions struct {
	timeMs   int // -1 when not given
	depth    int
	infinite bool
}

func parseGoOptions(args []string) (goOptions, error) {
	opts := goOptions{timeMs: -1}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "time", "movetime", "depth":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("%w: %s needs a value", ErrUsage, args[i])
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n < 0 {
				return opts, fmt.Errorf("%w: %s %q", ErrUsage, args[i], args[i+1])
			}
			if args[i] == "depth" {
				opts.depth = n
			} else {
				opts.timeMs = n
			}
			i++
		case "infinite":
			opts.infinite = true
		default:
			return opts, fmt.Errorf("%w: unknown go option %q", ErrUsage, args[i])
		}
	}

	return opts, nil
}

// limits converts goOptions to engine.Limits. A depth without a time runs
// to that depth; neither uses the configured default budget.
func (p *Protocol) limits(opts goOptions) engine.Limits {
	limits := engine.Limits{Depth: opts.depth}
	switch {
	case opts.infinite:
		limits.Infinite = true
	case opts.timeMs >= 0:
		limits.MoveTime = time.Duration(opts.timeMs) * time.Millisecond
	case opts.depth > 0:
		limits.Infinite = true
	default:
		limits.MoveTime = time.Duration(p.prefs.TimeMs) * time.Millisecond
	}
	return limits
}

// handleGo starts a search with the given parameters.
func (p *Protocol) handleGo(ctx context.Context, args []string) error {
	opts, err := parseGoOptions(args)
	if err != nil {
		return err
	}
	limits := p.limits(opts)
	pos := p.position

	if p.book != nil && p.prefs.Book {
		if e, ok := p.book.Probe(pos); ok {
			p.printf("info string book depth %d weight %d", e.Depth, e.Weight)
			p.printf("bestmove %s", e.Move)
			return nil
		}
	}

	p.engine.OnInfo = p.sendInfo

	done := make(chan struct{})
	p.searchDone = done

	go func() {
		defer close(done)

		res := p.engine.Search(ctx, pos, limits)
		if p.book != nil && p.prefs.Book && res.Depth >= book.MinDepth {
			if err := p.book.Record(pos, res.Move, res.Depth, res.Score); err != nil {
				p.log.Warn().Err(err).Msg("book-record-failed")
			}
		}
		if p.prefs.Metrics {
			s := res.Stats
			p.printf("info string nodes %d pruned %.1f%% branching %.2f tthits %.1f%%",
				s.Nodes, s.PrunedPercent(), s.BranchFactor(), s.HitRate())
		}
		p.printf("bestmove %s", res.Move)
	}()
	return nil
}

func (p *Protocol) sendInfo(info engine.SearchInfo) {
	parts := []string{
		fmt.Sprintf("depth %d", info.Depth),
		"score " + formatScore(info.Score),
		"move " + info.Move.String(),
		fmt.Sprintf("nodes %d", info.Nodes),
		fmt.Sprintf("time %d", info.Time.Milliseconds()),
	}

	// NPS
	if info.Time > 0 {
		nps := uint64(float64(info.Nodes) / info.Time.Seconds())
		parts = append(parts, fmt.Sprintf("nps %d", nps))
	}

	// Hash fullness
	if info.HashFull > 0 {
		parts = append(parts, fmt.Sprintf("hashfull %d", info.HashFull))
	}

	p.printf("info %s", strings.Join(parts, " "))
}

// formatScore prints decided games as a final disc margin.
func formatScore(score float64) string {
	if engine.IsTerminalScore(score) {
		return fmt.Sprintf("discs %+d", int(score/engine.TerminalScale))
	}
	return strconv.FormatFloat(score, 'f', 2, 64)
}

// handleStop stops the current search.
func (p *Protocol) handleStop() {
	if p.searchDone != nil {
		p.engine.Stop()
		p.wait()
	}
}

// handleSetOption processes "setoption name <name> value <value>".
func (p *Protocol) handleSetOption(args []string) error {
	var name, value []string
	var target *[]string

	for _, arg := range args {
		switch arg {
		case "name":
			target = &name
		case "value":
			target = &value
		default:
			if target == nil {
				return fmt.Errorf("%w: setoption name <name> value <value>", ErrUsage)
			}
			*target = append(*target, arg)
		}
	}

	key := strings.ToLower(strings.Join(name, " "))
	val := strings.Join(value, " ")

	switch key {
	case "maxdepth":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > engine.MaxDepth {
			return fmt.Errorf("%w: MaxDepth %q", ErrUsage, val)
		}
		p.prefs.MaxDepth = n
	case "threads":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: Threads %q", ErrUsage, val)
		}
		p.prefs.Threads = n
	case "time":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: Time %q", ErrUsage, val)
		}
		p.prefs.TimeMs = n
	case "book":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: Book %q", ErrUsage, val)
		}
		p.prefs.Book = b
	case "metrics":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: Metrics %q", ErrUsage, val)
		}
		p.prefs.Metrics = b
	default:
		return fmt.Errorf("%w: unknown option %q", ErrUsage, strings.Join(name, " "))
	}

	p.applyPreferences()
	p.log.Debug().Str("name", key).Str("value", val).Msg("option-set")

	if p.store != nil {
		if err := p.store.SavePreferences(p.prefs); err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
	}
	return nil
}

// handlePerft runs a perft test.
func (p *Protocol) handlePerft(args []string) error {
	depth := 5
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: perft %q", ErrUsage, args[0])
		}
		depth = n
	}

	start := time.Now()
	nodes := board.Perft(p.position, depth)
	elapsed := time.Since(start)

	p.printf("nodes %d time %d", nodes, elapsed.Milliseconds())
	return nil
}
