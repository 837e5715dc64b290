package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MeridianCRM/pulse/backend/internal/crm"
)

const defaultRefreshInterval = 5 * time.Minute

var (
	errMissingEngineUser    = errors.New("notify: engine user is required")
	errMissingEngineSources = errors.New("notify: engine sources are required")
	errMissingEngineStore   = errors.New("notify: engine store is required")
	errMissingEngineBus     = errors.New("notify: engine bus is required")
)

// EngineConfig describes the dependencies of an Engine.
type EngineConfig struct {
	User            UserID
	Sources         []Source
	Store           *FeedStore
	Bus             *ActivityBus
	RefreshInterval time.Duration
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Engine owns one user's notification feed. A single goroutine
// serializes every input that can change the feed: interval ticks,
// manual refreshes, activity-completed signals, and user mutations.
// That gives two guarantees the feed depends on: at most one
// reconcile-and-persist sequence is ever in flight, and mutations
// always apply to the current feed rather than a snapshot captured
// before a fetch started.
//
// Source fan-out runs off the loop so a slow upstream delays only its
// own cycle, never a user mutation. The settled fresh feed re-enters
// the loop as a command and is reconciled there.
type Engine struct {
	user     UserID
	sources  []Source
	store    *FeedStore
	bus      *ActivityBus
	interval time.Duration
	clock    func() time.Time
	logger   *zap.Logger

	commands chan func()
	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	// Loop-local refresh bookkeeping; touched only by the run goroutine.
	fetchInFlight  bool
	pendingRefresh bool

	mu      sync.RWMutex
	feed    []Notification
	loading bool
}

// NewEngine constructs an Engine. Call Start before using it.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.User == "" {
		return nil, errMissingEngineUser
	}
	if len(cfg.Sources) == 0 {
		return nil, errMissingEngineSources
	}
	if cfg.Store == nil {
		return nil, errMissingEngineStore
	}
	if cfg.Bus == nil {
		return nil, errMissingEngineBus
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		user:     cfg.User,
		sources:  cfg.Sources,
		store:    cfg.Store,
		bus:      cfg.Bus,
		interval: interval,
		clock:    clock,
		logger:   logger,
		commands: make(chan func(), 32),
		done:     make(chan struct{}),
		loading:  true,
	}, nil
}

// Start loads the persisted snapshot, subscribes to activity signals,
// launches the run loop, and triggers the initial refresh.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel

	prior := e.store.Load(runCtx, e.user)
	enforceInactivityInvariant(prior)
	e.mu.Lock()
	e.feed = prior
	e.mu.Unlock()

	signals, _ := e.bus.Subscribe(runCtx, e.user.String())
	go e.run(runCtx, signals)
}

// Close stops the run loop and waits for it to exit.
func (e *Engine) Close() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) run(ctx context.Context, signals <-chan ActivityCompleted) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.beginRefresh()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-e.commands:
			op()
		case <-ticker.C:
			e.beginRefresh()
		case signal, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			e.injectActivity(signal)
		}
	}
}

// do runs op on the engine goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, op func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		op()
		close(finished)
	}
	select {
	case e.commands <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errors.New("notify: engine stopped")
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return errors.New("notify: engine stopped")
	}
}

// Notifications returns a copy of the current ordered feed.
func (e *Engine) Notifications() []Notification {
	e.mu.RLock()
	defer e.mu.RUnlock()
	feed := make([]Notification, len(e.feed))
	copy(feed, e.feed)
	return feed
}

// UnreadCount returns the number of unread, unarchived records.
func (e *Engine) UnreadCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return UnreadCount(e.feed)
}

// Loading reports whether the first refresh cycle has settled yet.
func (e *Engine) Loading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loading
}

// Refresh requests a full fetch cycle. A request arriving while a cycle
// is already in flight coalesces into a single trailing cycle.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.do(ctx, func() {
		e.beginRefresh()
	})
}

// MarkAsRead sets read=true on the matching record. Missing ids are a
// silent no-op. The write-through persist runs before this returns.
func (e *Engine) MarkAsRead(ctx context.Context, id NotificationID) error {
	return e.do(ctx, func() {
		e.mutateFeed(func(feed []Notification) []Notification {
			for index := range feed {
				if feed[index].ID == id.String() {
					feed[index].Read = true
				}
			}
			return feed
		})
	})
}

// MarkAllAsRead sets read=true on every record.
func (e *Engine) MarkAllAsRead(ctx context.Context) error {
	return e.do(ctx, func() {
		e.mutateFeed(func(feed []Notification) []Notification {
			for index := range feed {
				feed[index].Read = true
			}
			return feed
		})
	})
}

// ArchiveNotification sets archived=true (and read=true) on the
// matching record. The inactivity alert is not archivable; archiving it
// is a no-op.
func (e *Engine) ArchiveNotification(ctx context.Context, id NotificationID) error {
	if id.String() == InactivityAlertID {
		return nil
	}
	return e.do(ctx, func() {
		e.mutateFeed(func(feed []Notification) []Notification {
			for index := range feed {
				if feed[index].ID == id.String() {
					feed[index].Archived = true
					feed[index].Read = true
				}
			}
			return feed
		})
	})
}

// RemoveNotification deletes the record from the feed entirely.
func (e *Engine) RemoveNotification(ctx context.Context, id NotificationID) error {
	return e.do(ctx, func() {
		e.mutateFeed(func(feed []Notification) []Notification {
			kept := feed[:0]
			for _, record := range feed {
				if record.ID != id.String() {
					kept = append(kept, record)
				}
			}
			return kept
		})
	})
}

// mutateFeed applies transform to the current feed and writes the
// result through the store. Runs on the engine goroutine only.
func (e *Engine) mutateFeed(transform func([]Notification) []Notification) {
	e.mu.Lock()
	working := make([]Notification, len(e.feed))
	copy(working, e.feed)
	working = transform(working)
	enforceInactivityInvariant(working)
	e.feed = working
	e.mu.Unlock()

	e.persist(working)
}

// beginRefresh launches the fetch fan-out unless one is already in
// flight, in which case the request is remembered and replayed once the
// current cycle settles. Runs on the engine goroutine only.
func (e *Engine) beginRefresh() {
	if e.fetchInFlight {
		e.pendingRefresh = true
		return
	}
	e.fetchInFlight = true

	now := e.clock()
	go func() {
		fresh := e.fetchAll(now)
		select {
		case e.commands <- func() { e.completeRefresh(fresh) }:
		case <-e.runCtx.Done():
		}
	}()
}

// completeRefresh reconciles the settled fresh feed against the current
// in-memory feed and persists the result. Because it runs on the engine
// goroutine, any mutation applied while the fetch was in flight is
// already part of the prior feed and survives the merge.
func (e *Engine) completeRefresh(fresh []Notification) {
	e.mu.Lock()
	merged := reconcile(fresh, e.feed)
	e.feed = merged
	e.loading = false
	e.mu.Unlock()

	e.persist(merged)

	e.fetchInFlight = false
	if e.pendingRefresh {
		e.pendingRefresh = false
		e.beginRefresh()
	}
}

// fetchAll fans out to every source and waits for all of them to settle.
// A failing source contributes zero records for the cycle: auth failures
// are expected empties, anything else is logged and suppressed. No
// source error ever aborts the cycle.
func (e *Engine) fetchAll(now time.Time) []Notification {
	results := make([][]Notification, len(e.sources))
	var waitGroup sync.WaitGroup
	for index, src := range e.sources {
		waitGroup.Add(1)
		go func(index int, src Source) {
			defer waitGroup.Done()
			records, err := src.Fetch(e.runCtx, e.user, now)
			if err != nil {
				if crm.IsAuthError(err) {
					return
				}
				e.logger.Warn("notification source fetch failed",
					zap.String("user_id", e.user.String()),
					zap.String("source", string(src.Kind())),
					zap.Error(err))
				return
			}
			results[index] = records
		}(index, src)
	}
	waitGroup.Wait()
	return aggregate(results)
}

// injectActivity synthesizes a feed record from an activity-completed
// signal and prepends it when no record with that id exists yet. The
// path bypasses the reconciler: the record has no backing source fetch.
// Runs on the engine goroutine only.
func (e *Engine) injectActivity(signal ActivityCompleted) {
	id := fmt.Sprintf("%s-%d", SourceKindActivity, signal.OccurredAt.Unix())

	e.mu.Lock()
	for _, record := range e.feed {
		if record.ID == id {
			e.mu.Unlock()
			return
		}
	}
	record := Notification{
		ID:         id,
		Type:       TypeActivity,
		Title:      signal.Title,
		Message:    fmt.Sprintf("Activity %q completed", signal.Title),
		CreatedAtS: signal.OccurredAt.Unix(),
	}
	updated := make([]Notification, 0, len(e.feed)+1)
	updated = append(updated, record)
	updated = append(updated, e.feed...)
	e.feed = updated
	e.mu.Unlock()

	e.persist(updated)
}

func (e *Engine) persist(feed []Notification) {
	if err := e.store.Save(e.runCtx, e.user, feed); err != nil {
		e.logger.Error("feed snapshot save failed",
			zap.String("user_id", e.user.String()),
			zap.Error(err))
	}
}
