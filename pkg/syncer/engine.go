// Package syncer keeps a client-held view of one user's threads and the
// selected thread's messages in step with the server by polling.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/readstate"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultPageSize = 50
)

var ErrStarted = errors.New("sync engine already started")

// Source is the read side of the messaging API.
type Source interface {
	ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error)
	ListMessages(ctx context.Context, threadID string, limit int, before int64) (models.MessagePage, error)
}

// Status describes recent fetch failures. Failures resets on the next
// successful fetch.
type Status struct {
	Failures     int       `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	FailingSince time.Time `json:"failing_since,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	// Stale is set once failures have persisted for the stale threshold.
	Stale bool `json:"stale"`
}

// View is an immutable copy of the engine state handed to subscribers.
type View struct {
	UserID     string
	Threads    []models.Thread
	Unread     int
	SelectedID string
	Selected   *models.Thread
	Messages   []models.Message
	HasMore    bool
	NextBefore int64
	Status     Status
}

type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithStaleAfter sets how long fetches must keep failing before the view
// is flagged stale. Defaults to three poll intervals.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) { e.staleAfter = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	src        Source
	userID     string
	interval   time.Duration
	pageSize   int
	staleAfter time.Duration
	now        func() time.Time

	poller *Poller

	mu     sync.Mutex
	ctx    context.Context
	epoch  uint64
	status Status

	serverThreads   []models.Thread
	threadOverlay   []models.Thread
	threads         []models.Thread
	threadsFP       Fingerprint
	threadsFPSet    bool
	threadsInFlight bool
	threadsAgain    bool

	selectedID   string
	selGen       uint64
	serverMsgs   []models.Message
	msgOverlay   []models.Message
	messages     []models.Message
	hasMore      bool
	nextBefore   int64
	msgFP        Fingerprint
	msgFPSet     bool
	msgFlightGen uint64
	earlierGen   uint64

	subMu  sync.Mutex
	subs   map[int]func(View)
	nextID int
}

func New(src Source, userID string, opts ...Option) *Engine {
	e := &Engine{
		src:      src,
		userID:   userID,
		interval: DefaultInterval,
		pageSize: DefaultPageSize,
		now:      time.Now,
		ctx:      context.Background(),
		selGen:   1,
		subs:     make(map[int]func(View)),
	}
	for _, o := range opts {
		o(e)
	}
	if e.staleAfter == 0 {
		e.staleAfter = 3 * e.interval
	}
	e.poller = NewPoller(e.interval, e.poll)
	return e
}

// Start performs the initial thread fetch and starts polling. A failed
// initial fetch is recorded in Status and retried on the next tick.
func (e *Engine) Start(ctx context.Context) error {
	if e.poller.Running() {
		return ErrStarted
	}
	e.mu.Lock()
	e.ctx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	if err := e.RefreshThreads(ctx); err != nil {
		logger.Warn("sync_initial_fetch_failed", "user", e.userID, "error", err)
	}
	if !e.poller.Start() {
		return ErrStarted
	}
	logger.Debug("sync_started", "user", e.userID, "interval", e.interval)
	return nil
}

// Stop halts polling and discards the result of any fetch still in
// flight. It must not be called from a subscriber callback.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.epoch++
	e.mu.Unlock()
	e.poller.Stop()
	logger.Debug("sync_stopped", "user", e.userID)
}

// Subscribe registers fn to receive the view after every change. The
// returned func removes the subscription.
func (e *Engine) Subscribe(fn func(View)) func() {
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify(v View) {
	e.subMu.Lock()
	fns := make([]func(View), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (e *Engine) poll() {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	_ = e.refreshThreads(ctx, false)
	_ = e.refreshMessages(ctx)
}

// RefreshThreads re-fetches the full thread list. If a fetch is already
// in flight another one runs right after it instead of in parallel.
func (e *Engine) RefreshThreads(ctx context.Context) error {
	return e.refreshThreads(ctx, true)
}

func (e *Engine) refreshThreads(ctx context.Context, queue bool) error {
	e.mu.Lock()
	if e.threadsInFlight {
		if queue {
			e.threadsAgain = true
		}
		e.mu.Unlock()
		return nil
	}
	e.threadsInFlight = true
	e.mu.Unlock()

	for {
		err := e.fetchThreads(ctx)
		e.mu.Lock()
		if !e.threadsAgain {
			e.threadsInFlight = false
			e.mu.Unlock()
			return err
		}
		e.threadsAgain = false
		e.mu.Unlock()
	}
}

func (e *Engine) fetchThreads(ctx context.Context) error {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()

	threads, err := e.src.ListThreadsForUser(context.WithoutCancel(ctx), e.userID)

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		v := e.failLocked("threads", err)
		e.mu.Unlock()
		e.notify(v)
		return err
	}
	recovered := e.succeedLocked()
	overlayLen := len(e.threadOverlay)
	e.threadOverlay = DropVanished(e.serverThreads, threads, e.threadOverlay)
	dropped := len(e.threadOverlay) != overlayLen
	if dropped {
		logger.Debug("sync_overlay_dropped", "user", e.userID, "threads", overlayLen-len(e.threadOverlay))
	}
	fp := ThreadsFingerprint(threads, e.userID)
	if e.threadsFPSet && fp == e.threadsFP && !recovered && !dropped {
		e.mu.Unlock()
		return nil
	}
	e.threadsFP, e.threadsFPSet = fp, true
	e.serverThreads = threads
	e.rebuildThreadsLocked()
	v := e.viewLocked()
	e.mu.Unlock()
	e.notify(v)
	return nil
}

// rebuildThreadsLocked merges server and overlay threads and re-points the
// selection at the refreshed thread.
func (e *Engine) rebuildThreadsLocked() {
	e.threads, e.threadOverlay = ReconcileThreads(e.serverThreads, e.threadOverlay)
	if e.selectedID == "" {
		return
	}
	if e.findThreadLocked(e.selectedID) == nil {
		logger.Debug("sync_selection_cleared", "user", e.userID, "thread", e.selectedID)
		e.clearSelectionLocked("")
	}
}

func (e *Engine) findThreadLocked(id string) *models.Thread {
	for i := range e.threads {
		if e.threads[i].ID == id {
			return &e.threads[i]
		}
	}
	return nil
}

func (e *Engine) clearSelectionLocked(id string) {
	e.selectedID = id
	e.selGen++
	e.serverMsgs, e.msgOverlay, e.messages = nil, nil, nil
	e.hasMore, e.nextBefore = false, 0
	e.msgFPSet = false
}

// Select makes threadID the active thread and fetches its newest page.
// Selecting the empty id clears the selection.
func (e *Engine) Select(ctx context.Context, threadID string) error {
	e.mu.Lock()
	if threadID == e.selectedID {
		e.mu.Unlock()
		return e.refreshMessages(ctx)
	}
	e.clearSelectionLocked(threadID)
	v := e.viewLocked()
	e.mu.Unlock()
	e.notify(v)
	return e.refreshMessages(ctx)
}

func (e *Engine) refreshMessages(ctx context.Context) error {
	e.mu.Lock()
	id, gen, epoch := e.selectedID, e.selGen, e.epoch
	if id == "" || e.msgFlightGen == gen {
		e.mu.Unlock()
		return nil
	}
	e.msgFlightGen = gen
	e.mu.Unlock()

	page, err := e.src.ListMessages(context.WithoutCancel(ctx), id, e.pageSize, 0)

	e.mu.Lock()
	if e.msgFlightGen == gen {
		e.msgFlightGen = 0
	}
	if gen != e.selGen || epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		v := e.failLocked("messages", err)
		e.mu.Unlock()
		e.notify(v)
		return err
	}
	recovered := e.succeedLocked()
	fp := MessagesFingerprint(page.Messages, e.userID)
	if e.msgFPSet && fp == e.msgFP && !recovered {
		e.mu.Unlock()
		return nil
	}
	e.msgFP, e.msgFPSet = fp, true

	// keep history loaded through LoadEarlier that the newest page no
	// longer reaches
	var history []models.Message
	if page.HasMore && len(page.Messages) > 0 {
		oldest := page.Messages[0].Timestamp
		for _, m := range e.serverMsgs {
			if m.Timestamp < oldest {
				history = append(history, m)
			}
		}
	}
	if len(history) == 0 {
		e.hasMore, e.nextBefore = page.HasMore, page.NextBefore
	}
	e.serverMsgs = append(history, page.Messages...)
	e.rebuildMessagesLocked()
	v := e.viewLocked()
	e.mu.Unlock()
	e.notify(v)
	return nil
}

func (e *Engine) rebuildMessagesLocked() {
	e.messages, e.msgOverlay = ReconcileMessages(e.serverMsgs, e.hasMore, e.msgOverlay)
}

// LoadEarlier fetches the page preceding the oldest loaded message of the
// selected thread. It is a no-op when nothing older exists or a load for
// the same selection is already running.
func (e *Engine) LoadEarlier(ctx context.Context) error {
	e.mu.Lock()
	id, gen, epoch := e.selectedID, e.selGen, e.epoch
	if id == "" || !e.hasMore || e.earlierGen == gen {
		e.mu.Unlock()
		return nil
	}
	before := e.nextBefore
	e.earlierGen = gen
	e.mu.Unlock()

	page, err := e.src.ListMessages(context.WithoutCancel(ctx), id, e.pageSize, before)

	e.mu.Lock()
	if e.earlierGen == gen {
		e.earlierGen = 0
	}
	if gen != e.selGen || epoch != e.epoch || before != e.nextBefore {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		v := e.failLocked("messages_earlier", err)
		e.mu.Unlock()
		e.notify(v)
		return err
	}
	e.succeedLocked()
	seen := make(map[string]bool, len(e.serverMsgs))
	for _, m := range e.serverMsgs {
		seen[m.ID] = true
	}
	older := make([]models.Message, 0, len(page.Messages)+len(e.serverMsgs))
	for _, m := range page.Messages {
		if !seen[m.ID] {
			older = append(older, m)
		}
	}
	e.serverMsgs = append(older, e.serverMsgs...)
	e.hasMore, e.nextBefore = page.HasMore, page.NextBefore
	e.rebuildMessagesLocked()
	v := e.viewLocked()
	e.mu.Unlock()
	e.notify(v)
	return nil
}

// ApplyThread splices a locally written thread into the view ahead of the
// next poll.
func (e *Engine) ApplyThread(th models.Thread) {
	e.mu.Lock()
	replaced := false
	for i := range e.threadOverlay {
		if e.threadOverlay[i].ID == th.ID {
			e.threadOverlay[i] = th.Clone()
			replaced = true
		}
	}
	if !replaced {
		e.threadOverlay = append(e.threadOverlay, th.Clone())
	}
	e.rebuildThreadsLocked()
	v := e.viewLocked()
	e.mu.Unlock()
	e.notify(v)
}

// ApplyMessage splices a locally sent message into the selected thread.
// Messages for other threads are ignored; their thread summary arrives
// through ApplyThread or the next poll.
func (e *Engine) ApplyMessage(m models.Message) {
	e.mu.Lock()
	if m.ThreadID != e.selectedID {
		e.mu.Unlock()
		return
	}
	e.msgOverlay = append(e.msgOverlay, m.Clone())
	e.rebuildMessagesLocked()
	v := e.viewLocked()
	e.mu.Unlock()
	e.notify(v)
}

// Snapshot returns a copy of the current view.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) failLocked(resource string, err error) View {
	now := e.now()
	if e.status.Failures == 0 {
		e.status.FailingSince = now
	}
	e.status.Failures++
	e.status.LastError = err.Error()
	if apperr.IsTransient(err) {
		logger.Warn("sync_fetch_failed", "user", e.userID, "resource", resource, "failures", e.status.Failures, "error", err)
	} else {
		logger.Error("sync_fetch_failed", "user", e.userID, "resource", resource, "kind", apperr.KindOf(err), "error", err)
	}
	return e.viewLocked()
}

// succeedLocked records a successful fetch and reports whether it ended a
// run of failures.
func (e *Engine) succeedLocked() bool {
	recovered := e.status.Failures > 0
	if recovered {
		logger.Info("sync_recovered", "user", e.userID, "failures", e.status.Failures)
	}
	e.status = Status{LastSuccess: e.now()}
	return recovered
}

func (e *Engine) viewLocked() View {
	v := View{
		UserID:     e.userID,
		Threads:    make([]models.Thread, len(e.threads)),
		SelectedID: e.selectedID,
		Messages:   make([]models.Message, len(e.messages)),
		HasMore:    e.hasMore,
		NextBefore: e.nextBefore,
		Status:     e.status,
	}
	for i := range e.threads {
		v.Threads[i] = e.threads[i].Clone()
	}
	for i := range e.messages {
		v.Messages[i] = e.messages[i].Clone()
	}
	if sel := e.findThreadLocked(e.selectedID); sel != nil {
		c := sel.Clone()
		v.Selected = &c
	}
	v.Unread = readstate.Total(v.Threads, e.userID)
	v.Status.Stale = e.status.Failures > 0 && e.now().Sub(e.status.FailingSince) >= e.staleAfter
	return v
}
