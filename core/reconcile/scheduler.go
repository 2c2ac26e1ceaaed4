package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"record-sync/core/assets"
	"record-sync/core/events"
	"record-sync/core/localstore"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/retry"
	"record-sync/core/shadow"

	"go.uber.org/zap"
)

// ErrClosed is returned by MarkDirty, Sync and Delete after Close, and
// delivered to callbacks still pending when the scheduler closes.
var ErrClosed = errors.New("scheduler closed")

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Remote   remote.Store
	Local    localstore.Store
	Registry *shadow.Registry
	Retrier  *retry.Retrier
	// Stager uploads asset values before submission. Nil disables uploads.
	Stager *assets.Stager
	// Bus receives BatchCompleted events. Nil disables publishing.
	Bus *events.Bus
}

type commandKind int

const (
	cmdMark commandKind = iota
	cmdStats
)

type command struct {
	kind  commandKind
	refs  []localstore.Ref
	done  Callback
	stats chan Stats
}

type passResult struct {
	result Result
}

// Scheduler coalesces dirty objects into debounced batch passes. A single
// goroutine owns the pending graph, the debounce timer and the resync flag;
// at most one pass runs at a time.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	cmds chan command
	quit chan struct{}
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// submitMu serializes remote submissions from passes and deletes.
	submitMu  sync.Mutex
	closeOnce sync.Once
}

// NewScheduler creates a scheduler and starts its loop. Call Close to stop it.
func NewScheduler(cfg Config, deps Deps, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		cmds:   make(chan command),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.loop()
	return s
}

// MarkDirty persists refs as dirty and in progress, then adds them to the
// pending graph. done, if not nil, is called with the result of the pass
// that covers them.
func (s *Scheduler) MarkDirty(ctx context.Context, done Callback, refs ...localstore.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	err := s.deps.Local.Save(ctx, func(tx localstore.Tx) error {
		for _, ref := range refs {
			obj, err := tx.Lookup(ref)
			if err != nil {
				return fmt.Errorf("failed to mark %s dirty: %w", ref, err)
			}
			obj.SyncState = record.Dirty
			obj.Revision++
			if err := tx.Put(obj); err != nil {
				return err
			}
			if err := tx.MarkInProgress(ref, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.send(ctx, command{kind: cmdMark, refs: refs, done: done})
}

// Enqueue adds refs to the pending graph without touching the local store.
// It is used to resume objects already recorded as in progress.
func (s *Scheduler) Enqueue(ctx context.Context, done Callback, refs ...localstore.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	return s.send(ctx, command{kind: cmdMark, refs: refs, done: done})
}

// Sync marks refs dirty and waits for the pass that covers them.
func (s *Scheduler) Sync(ctx context.Context, refs ...localstore.Ref) (Result, error) {
	ch := make(chan Result, 1)
	if err := s.MarkDirty(ctx, func(r Result) { ch <- r }, refs...); err != nil {
		return Result{}, err
	}
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stats returns a snapshot of the loop state.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	if err := s.send(ctx, command{kind: cmdStats, stats: ch}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (s *Scheduler) send(ctx context.Context, cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop. A running pass is cancelled at its next remote call
// and its objects stay dirty and in progress; callbacks of objects that never
// reached a pass receive ErrClosed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
		<-s.done
	})
}

func (s *Scheduler) loop() {
	defer close(s.done)

	var (
		pending   = newGraph()
		timer     *time.Timer
		timerC    <-chan time.Time
		inFlight  bool
		resync    bool
		passes    uint64
		passDone  = make(chan passResult, 1)
		startPass func()
	)

	startPass = func() {
		current := pending
		pending = newGraph()
		inFlight = true
		passes++
		pass := passes
		go func() {
			start := time.Now()
			res := s.runPass(s.ctx, current.refs)
			res.Pass = pass
			s.publish(res, time.Since(start))
			for _, cb := range current.callbacks {
				cb(res)
			}
			passDone <- passResult{result: res}
		}()
	}

	for {
		select {
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdMark:
				pending.add(cmd.refs, cmd.done)
				if inFlight {
					resync = true
					continue
				}
				if timer == nil {
					timer = time.NewTimer(s.cfg.Debounce)
				} else {
					timer.Reset(s.cfg.Debounce)
				}
				timerC = timer.C
			case cmdStats:
				cmd.stats <- Stats{
					Pending:         len(pending.refs),
					TimerArmed:      timerC != nil,
					InFlight:        inFlight,
					ResyncRequested: resync,
					Passes:          passes,
				}
			}

		case <-timerC:
			timerC = nil
			if inFlight {
				resync = true
				continue
			}
			startPass()

		case <-passDone:
			inFlight = false
			if resync {
				resync = false
				if len(pending.refs) > 0 {
					startPass()
				}
			}

		case <-s.quit:
			if timer != nil {
				timer.Stop()
			}
			for inFlight {
				select {
				case <-passDone:
					inFlight = false
				case cmd := <-s.cmds:
					if cmd.kind == cmdMark {
						pending.add(cmd.refs, cmd.done)
					} else {
						cmd.stats <- Stats{Pending: len(pending.refs), InFlight: true, Passes: passes}
					}
				}
			}
			closed := Result{Err: ErrClosed}
			for _, cb := range pending.callbacks {
				cb(closed)
			}
			return
		}
	}
}

func (s *Scheduler) publish(res Result, took time.Duration) {
	ev := BatchCompleted{Pass: res.Pass, Outcomes: res.Outcomes, Duration: took}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	s.deps.Bus.Publish(ev)

	fields := []zap.Field{
		zap.Uint64("pass", res.Pass),
		zap.Int("objects", len(res.Outcomes)),
		zap.Duration("took", took),
	}
	if res.Err != nil {
		s.logger.Warn("Sync pass finished with failures", append(fields, zap.Error(res.Err))...)
		return
	}
	s.logger.Info("Sync pass finished", fields...)
}

// graph is the set of refs waiting for the next pass plus their callbacks.
type graph struct {
	refs      []localstore.Ref
	seen      map[localstore.Ref]struct{}
	callbacks []Callback
}

func newGraph() *graph {
	return &graph{seen: make(map[localstore.Ref]struct{})}
}

func (g *graph) add(refs []localstore.Ref, cb Callback) {
	for _, ref := range refs {
		if _, ok := g.seen[ref]; ok {
			continue
		}
		g.seen[ref] = struct{}{}
		g.refs = append(g.refs, ref)
	}
	if cb != nil {
		g.callbacks = append(g.callbacks, cb)
	}
}
