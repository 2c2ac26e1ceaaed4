package retry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"record-sync/core/connectivity"
	"record-sync/core/record"
	"record-sync/core/remote"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned once the retrier has been shut down.
	ErrClosed = errors.New("retrier closed")
	// ErrAttemptsExhausted wraps the last failure of a request that hit MaxAttempts.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)

// Request describes a logical remote request independently of how it is
// issued. Resubmit reissues it; it receives the request with Attempt advanced.
type Request struct {
	// Name labels the request in logs, e.g. "modify".
	Name string
	// Scope is the database the request targets.
	Scope record.Scope
	// Zone is the partition the request targets, if any.
	Zone string
	// Target is the item of interest used to resolve partial failures.
	Target *record.ID
	// Attempt counts previous resubmissions.
	Attempt int
	// Resubmit reissues the request. Nil means the request cannot be retried.
	Resubmit func(ctx context.Context, next Request)
}

// PendingRetry describes a resubmission waiting for its delay to elapse.
type PendingRetry struct {
	ID      uint64        `json:"id"`
	Name    string        `json:"name"`
	Scope   record.Scope  `json:"scope"`
	Zone    string        `json:"zone,omitempty"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Due     time.Time     `json:"due"`
}

type scheduled struct {
	info  PendingRetry
	timer *time.Timer
}

// Retrier is the single point of retry policy for remote operations.
type Retrier struct {
	cfg    Config
	conn   *connectivity.Tracker
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[uint64]*scheduled
	nextID  uint64
	closed  bool
}

// New creates a retrier. conn may be nil, in which case authentication
// failures are surfaced without a state transition and Do does not wait for
// sign-in.
func New(cfg Config, conn *connectivity.Tracker, logger *zap.Logger) *Retrier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Retrier{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]*scheduled),
	}
}

// Handle classifies the outcome of a remote request.
//
// It returns handled=false when there is nothing to handle (err is nil) or
// when the failure is an authentication failure, which demotes connectivity
// and is returned as surfaced for the caller to react to. Otherwise handled
// is true: surfaced is nil when a resubmission has been scheduled, and the
// terminal error to deliver when not.
func (r *Retrier) Handle(err error, req Request) (handled bool, surfaced error) {
	handled, _, surfaced = r.handle(err, req)
	return handled, surfaced
}

func (r *Retrier) handle(err error, req Request) (bool, uint64, error) {
	if err == nil {
		return false, 0, nil
	}
	if _, ok := remote.As(err); !ok {
		return true, 0, err
	}

	root := remote.Resolve(err, req.Target)

	if remote.IsAuth(root) {
		state := connectivity.NotLoggedIn
		if r.conn != nil {
			state = r.conn.Demote()
		}
		r.logger.Warn("Remote authentication failed",
			zap.String("request", req.Name),
			zap.Stringer("state", state),
			zap.Error(root),
		)
		return false, 0, root
	}

	delay, retryable := remote.RetryDelay(root)
	if !retryable || req.Resubmit == nil {
		return true, 0, root
	}
	if r.cfg.MaxAttempts > 0 && req.Attempt+1 > r.cfg.MaxAttempts {
		return true, 0, fmt.Errorf("%w: %s after %d attempts: %w", ErrAttemptsExhausted, req.Name, req.Attempt+1, root)
	}

	id, err := r.schedule(req, delay)
	if err != nil {
		return true, 0, err
	}
	return true, id, nil
}

func (r *Retrier) schedule(req Request, delay time.Duration) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	r.nextID++
	id := r.nextID
	next := req
	next.Attempt++

	s := &scheduled{info: PendingRetry{
		ID:      id,
		Name:    req.Name,
		Scope:   req.Scope,
		Zone:    req.Zone,
		Attempt: next.Attempt,
		Delay:   delay,
		Due:     time.Now().Add(delay),
	}}
	r.wg.Add(1)
	s.timer = time.AfterFunc(delay, func() {
		defer r.wg.Done()
		if !r.take(id) {
			return
		}
		r.logger.Info("Resubmitting remote request",
			zap.String("request", next.Name),
			zap.String("zone", next.Zone),
			zap.Int("attempt", next.Attempt),
		)
		next.Resubmit(r.ctx, next)
	})
	r.pending[id] = s

	r.logger.Warn("Remote request rate limited",
		zap.String("request", req.Name),
		zap.String("scope", string(req.Scope)),
		zap.String("zone", req.Zone),
		zap.Duration("retry_after", delay),
	)
	return id, nil
}

// take removes a pending retry, reporting whether it was still pending.
func (r *Retrier) take(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// Cancel drops a pending retry before it fires.
func (r *Retrier) Cancel(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	if s.timer.Stop() {
		r.wg.Done()
	}
	return true
}

// Pending lists scheduled resubmissions ordered by due time.
func (r *Retrier) Pending() []PendingRetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingRetry, 0, len(r.pending))
	for _, s := range r.pending {
		out = append(out, s.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out
}

// Do runs call and keeps resubmitting it while the store asks for a delay.
// It waits for sign-in before each attempt and returns the terminal error,
// or nil once call succeeds.
func (r *Retrier) Do(ctx context.Context, req Request, call func(ctx context.Context) error) error {
	for {
		if r.conn != nil {
			if err := r.conn.Await(ctx); err != nil {
				return err
			}
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		next, err := r.Backoff(ctx, req, err)
		if err != nil {
			return err
		}
		req = next
	}
}

// Backoff waits out the delay err asks for before req may be reissued. It
// returns req with Attempt advanced once the delay elapsed, or the error to
// surface when err is not retryable, attempts are exhausted or ctx ends.
func (r *Retrier) Backoff(ctx context.Context, req Request, err error) (Request, error) {
	if err == nil {
		return req, nil
	}
	fired := make(chan Request, 1)
	attempt := req
	attempt.Resubmit = func(_ context.Context, next Request) { fired <- next }

	handled, id, surfaced := r.handle(err, attempt)
	if !handled || surfaced != nil {
		return req, surfaced
	}

	select {
	case next := <-fired:
		next.Resubmit = req.Resubmit
		return next, nil
	case <-ctx.Done():
		r.Cancel(id)
		return req, ctx.Err()
	case <-r.ctx.Done():
		return req, ErrClosed
	}
}

// Close cancels every pending resubmission and waits for running ones.
func (r *Retrier) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id, s := range r.pending {
		if s.timer.Stop() {
			r.wg.Done()
		}
		delete(r.pending, id)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
