// Package dualwrite coordinates the dual-write protocol: every mutation is
// pre-checked locally, applied optimistically to the cache, then submitted
// to the authoritative store, with rollback on refusal and an offline queue
// for transient failures. The remote store has the final word; the local
// path only decides how fast a write fails.
package dualwrite

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lyceum-app/lyceum/internal/audit"
	"github.com/lyceum-app/lyceum/internal/cache"
	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/store"
)

// Metrics receives coordinator observations. Implementations live in the
// observability package; a nil Metrics disables reporting.
type Metrics interface {
	WriteOutcome(collection string, state State)
	ReadCache(hit bool)
	QueueDepth(depth int)
}

// Config tunes the coordinator.
type Config struct {
	// CacheTTL is passed to every cache put. Zero uses the cache default.
	CacheTTL time.Duration
	// RollbackOnTransient rolls a write back on a transient remote failure
	// instead of parking it in the offline queue.
	RollbackOnTransient bool
	// OnResult, when set, receives the terminal result of each queued
	// write once replay settles it. Called synchronously from Flush.
	OnResult func(id string, res Result, err error)
	// Metrics receives observations; nil disables them.
	Metrics Metrics
}

// Result is the outcome of a write.
type Result struct {
	State State
	// Doc is the committed snapshot, set only on StateCommitted (nil for
	// deletes) and the optimistic snapshot on StateCacheWritten.
	Doc *core.Document
	// QueuedID identifies a parked offline write for Cancel and OnResult.
	QueuedID string
}

// Coordinator drives writes through the state machine and serves reads
// through the cache. Writes to the same path are serialized; writes to
// distinct paths proceed concurrently.
type Coordinator struct {
	remote store.Store
	cache  cache.Cache
	engine *policy.Engine
	trail  audit.Recorder
	logger *slog.Logger
	cfg    Config

	online atomic.Bool
	locks  *pathLocks
	queue  *offlineQueue
	feed   *feed
}

// NewCoordinator wires the coordinator. The store is expected to be the
// guarded (policy re-evaluating) decorator; the coordinator itself never
// assumes its own pre-check was honored.
func NewCoordinator(remote store.Store, c cache.Cache, engine *policy.Engine, trail audit.Recorder, logger *slog.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	co := &Coordinator{
		remote: remote,
		cache:  c,
		engine: engine,
		trail:  trail,
		logger: logger,
		cfg:    cfg,
		locks:  newPathLocks(),
		queue:  newOfflineQueue(),
		feed:   newFeed(),
	}
	co.online.Store(true)
	return co
}

// Online reports connectivity as last observed or set.
func (c *Coordinator) Online() bool {
	return c.online.Load()
}

// SetOnline flips connectivity. Going online does not flush by itself;
// call Flush (or let the replay job do it).
func (c *Coordinator) SetOnline(online bool) {
	c.online.Store(online)
}

// QueueLen reports the number of parked writes.
func (c *Coordinator) QueueLen() int {
	return c.queue.len()
}

// Write runs one mutation through the protocol. op must be OpCreate,
// OpUpdate or OpDelete; fields is nil for deletes.
func (c *Coordinator) Write(ctx context.Context, p principal.Principal, op policy.Operation, path core.Path, fields map[string]any) (Result, error) {
	if !op.Mutating() {
		return Result{State: StateRejected}, fmt.Errorf("%w: %s is not a mutation", core.ErrMalformedRequest, op)
	}
	unlock := c.locks.lock(path.String())
	defer unlock()

	prior, known := c.snapshot(ctx, p, path)

	// Updates are partial: fields absent from the payload carry forward
	// from the snapshot, so the pre-check and the optimistic cache see the
	// whole document, not a truncated one.
	effective := fields
	if op == policy.OpUpdate && prior != nil && prior.Exists {
		effective = core.MergedFields(prior, fields)
	}

	// Local pre-check. With no reachable snapshot the prior state of an
	// update or delete is unknown, so the advisory check is skipped and the
	// authoritative re-evaluation decides at replay time.
	if known || op == policy.OpCreate {
		old := prior
		if old == nil {
			old = &core.Document{Path: path, Exists: false}
		}
		var newDoc *core.Document
		if op != policy.OpDelete {
			newDoc = core.NewDocument(path, effective)
		}
		if d := c.engine.Evaluate(p, op, path, old, newDoc); !d.Allowed {
			c.record(ctx, p, op, path, prior, nil, audit.StatusFailure, string(d.Reason))
			c.observeWrite(path, StateRejected)
			return Result{State: StateRejected}, d.Err()
		}
	}

	optimistic := c.applyCache(ctx, op, path, effective)

	if !c.Online() {
		id := c.enqueue(p, op, path, fields, prior)
		return Result{State: StateCacheWritten, Doc: optimistic, QueuedID: id}, nil
	}

	res, err := c.submit(ctx, p, op, path, fields, prior)
	if err != nil && core.Retryable(err) {
		if c.cfg.RollbackOnTransient {
			c.rollback(ctx, path, prior)
			c.observeWrite(path, StateRolledBack)
			return Result{State: StateRolledBack}, err
		}
		c.SetOnline(false)
		id := c.enqueue(p, op, path, fields, prior)
		c.logger.Warn("remote unreachable, write parked",
			slog.String("path", path.String()), slog.String("queue_id", id))
		return Result{State: StateCacheWritten, Doc: optimistic, QueuedID: id}, nil
	}
	return res, err
}

// Read serves a document cache-first, falling back to the remote store,
// with the read policy applied to the snapshot actually returned.
func (c *Coordinator) Read(ctx context.Context, p principal.Principal, path core.Path) (*core.Document, error) {
	doc, hit, err := c.cache.Get(ctx, path)
	if err != nil {
		c.logger.Warn("cache read failed", slog.String("path", path.String()), slog.Any("error", err))
		hit = false
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ReadCache(hit)
	}
	if !hit {
		if !c.Online() {
			return nil, &core.TransientError{Err: fmt.Errorf("offline and %s not cached", path)}
		}
		doc, err = c.remote.Get(principal.ContextWith(ctx, p), path)
		if err != nil {
			return nil, err
		}
		if doc.Exists {
			if err := c.cache.Put(ctx, path, doc, c.cfg.CacheTTL); err != nil {
				c.logger.Warn("cache fill failed", slog.String("path", path.String()), slog.Any("error", err))
			}
		}
	}
	if d := c.engine.Evaluate(p, policy.OpRead, path, doc, nil); !d.Allowed {
		return nil, d.Err()
	}
	if !doc.Exists {
		return nil, core.ErrNotFound
	}
	return doc, nil
}

// List returns one page of a collection. An empty token starts from the
// beginning; tokens come from the returned page. Rows the principal may
// not read are dropped by the engine's read rule before they leave the
// store layer, so a teacher listing students sees only taught classes and
// a parent only linked children.
func (c *Coordinator) List(ctx context.Context, p principal.Principal, q store.Query, pageSize int, token string) (store.Page, error) {
	d := c.engine.Evaluate(p, policy.OpList, core.Path{Collection: q.Collection}, nil, nil)
	if !d.Allowed {
		return store.Page{}, d.Err()
	}
	cursor, err := store.ResumeCursor(c.remote, q, pageSize, token)
	if err != nil {
		return store.Page{}, err
	}
	cursor.Scoped(func(doc *core.Document) bool {
		return c.engine.Evaluate(p, policy.OpRead, doc.Path, doc, nil).Allowed
	})
	return cursor.Next(principal.ContextWith(ctx, p))
}

// Subscribe delivers committed changes for a collection. Delivery is
// best-effort: a subscriber that stops draining misses events.
func (c *Coordinator) Subscribe(collection core.Collection, buffer int) (<-chan store.ChangeEvent, func()) {
	return c.feed.subscribe(collection, buffer)
}

// Relay bridges the remote store's change feed into local subscribers, for
// deployments where other nodes write the same store. Runs until ctx ends.
func (c *Coordinator) Relay(ctx context.Context, collection core.Collection) error {
	events, cancel, err := c.remote.Changes(ctx, collection)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		c.feed.relay(ctx, events)
	}()
	return nil
}

// Cancel withdraws a parked write before submission, restoring the cache
// to its pre-write state.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	item, ok := c.queue.remove(id)
	if !ok {
		return fmt.Errorf("%w: no queued write %s", core.ErrNotFound, id)
	}
	c.observeQueue()
	unlock := c.locks.lock(item.Path.String())
	defer unlock()
	c.rollback(ctx, item.Path, item.Prior)
	c.record(ctx, item.Principal, item.Op, item.Path, item.Prior, nil, audit.StatusFailure, "cancelled before submission")
	return nil
}

// Flush replays parked writes in arrival order. A transient failure stops
// the flush with the failing write back at the head of the queue; every
// other outcome is terminal and reported through OnResult.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.SetOnline(true)
	for {
		item, ok := c.queue.pop()
		if !ok {
			c.observeQueue()
			return nil
		}
		c.observeQueue()
		res, err := c.replay(ctx, item)
		if err != nil && core.Retryable(err) {
			item.Attempts++
			c.queue.requeueFront(item)
			c.observeQueue()
			c.SetOnline(false)
			return err
		}
		if c.cfg.OnResult != nil {
			c.cfg.OnResult(item.ID, res, err)
		}
	}
}

// replay pushes one parked write through the remainder of the protocol.
// The pre-check reuses the principal snapshot taken at enqueue time; the
// guarded store re-resolves the principal, so a role revoked while the
// write sat queued surfaces as a conflict here, not a silent success.
func (c *Coordinator) replay(ctx context.Context, item *queuedWrite) (Result, error) {
	unlock := c.locks.lock(item.Path.String())
	defer unlock()

	if item.Prior != nil || item.Op == policy.OpCreate {
		old := item.Prior
		if old == nil {
			old = &core.Document{Path: item.Path, Exists: false}
		}
		var newDoc *core.Document
		if item.Op != policy.OpDelete {
			f := item.Fields
			if item.Op == policy.OpUpdate {
				f = core.MergedFields(item.Prior, f)
			}
			newDoc = core.NewDocument(item.Path, f)
		}
		if d := c.engine.Evaluate(item.Principal, item.Op, item.Path, old, newDoc); !d.Allowed {
			c.rollback(ctx, item.Path, item.Prior)
			c.record(ctx, item.Principal, item.Op, item.Path, item.Prior, nil, audit.StatusFailure, string(d.Reason))
			c.observeWrite(item.Path, StateRolledBack)
			return Result{State: StateRolledBack, QueuedID: item.ID}, d.Err()
		}
	}
	res, err := c.submit(ctx, item.Principal, item.Op, item.Path, item.Fields, item.Prior)
	res.QueuedID = item.ID
	return res, err
}

// submit is the RemoteSubmitted leg: hand the write to the authoritative
// store, then commit or roll back. A transient error leaves the cache
// holding the optimistic value and returns without recording; the caller
// decides between queueing and rollback.
func (c *Coordinator) submit(ctx context.Context, p principal.Principal, op policy.Operation, path core.Path, fields map[string]any, prior *core.Document) (Result, error) {
	ctx = principal.ContextWith(ctx, p)

	var (
		committed *core.Document
		err       error
	)
	if op == policy.OpDelete {
		err = c.remote.Delete(ctx, path)
	} else {
		committed, err = c.remote.Put(ctx, path, fields)
	}
	if err == nil {
		event := store.ChangeEvent{Path: path, At: time.Now()}
		if op == policy.OpDelete {
			if cerr := c.cache.Invalidate(ctx, path); cerr != nil {
				c.logger.Warn("cache invalidate failed", slog.String("path", path.String()), slog.Any("error", cerr))
			}
			event.Type = store.ChangeDelete
		} else {
			if cerr := c.cache.Put(ctx, path, committed, c.cfg.CacheTTL); cerr != nil {
				c.logger.Warn("cache commit failed", slog.String("path", path.String()), slog.Any("error", cerr))
			}
			event.Type = store.ChangePut
			event.Doc = committed
		}
		c.feed.publish(event)
		var after *core.Document
		if committed != nil {
			after = committed
		}
		c.record(ctx, p, op, path, prior, after, audit.StatusSuccess, "")
		c.observeWrite(path, StateCommitted)
		return Result{State: StateCommitted, Doc: committed}, nil
	}
	if core.Retryable(err) {
		return Result{State: StateRemoteSubmitted}, err
	}

	// Authoritative refusal: restore the cache and surface the rejection.
	c.rollback(ctx, path, prior)
	c.record(ctx, p, op, path, prior, nil, audit.StatusFailure, err.Error())
	c.observeWrite(path, StateRolledBack)
	return Result{State: StateRolledBack}, err
}

// snapshot returns the best local view of the document, preferring the
// cache. known=false means neither cache nor remote could say.
func (c *Coordinator) snapshot(ctx context.Context, p principal.Principal, path core.Path) (doc *core.Document, known bool) {
	if doc, ok, err := c.cache.Get(ctx, path); err == nil && ok {
		return doc, true
	}
	if !c.Online() {
		return nil, false
	}
	doc, err := c.remote.Get(principal.ContextWith(ctx, p), path)
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (c *Coordinator) applyCache(ctx context.Context, op policy.Operation, path core.Path, fields map[string]any) *core.Document {
	if op == policy.OpDelete {
		if err := c.cache.Invalidate(ctx, path); err != nil {
			c.logger.Warn("cache invalidate failed", slog.String("path", path.String()), slog.Any("error", err))
		}
		return nil
	}
	optimistic := core.NewDocument(path, fields)
	if err := c.cache.Put(ctx, path, optimistic, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("optimistic cache write failed", slog.String("path", path.String()), slog.Any("error", err))
	}
	return optimistic
}

// rollback restores the cache to the pre-write value, or to absence when
// the document did not exist (or its prior state is unknown).
func (c *Coordinator) rollback(ctx context.Context, path core.Path, prior *core.Document) {
	var err error
	if prior != nil && prior.Exists {
		err = c.cache.Put(ctx, path, prior, c.cfg.CacheTTL)
	} else {
		err = c.cache.Invalidate(ctx, path)
	}
	if err != nil {
		c.logger.Error("cache rollback failed", slog.String("path", path.String()), slog.Any("error", err))
	}
}

func (c *Coordinator) enqueue(p principal.Principal, op policy.Operation, path core.Path, fields map[string]any, prior *core.Document) string {
	id := c.queue.add(&queuedWrite{
		Principal: p,
		Op:        op,
		Path:      path,
		Fields:    fields,
		Prior:     prior,
	})
	c.observeQueue()
	return id
}

func (c *Coordinator) record(ctx context.Context, p principal.Principal, op policy.Operation, path core.Path, before, after *core.Document, status audit.Status, reason string) {
	entry := audit.Entry{
		PrincipalID:   p.ID,
		Operation:     op.String(),
		ResourcePath:  path.String(),
		Status:        status,
		FailureReason: reason,
	}
	if before != nil && before.Exists {
		entry.Before = before.Fields
	}
	if after != nil && after.Exists {
		entry.After = after.Fields
	}
	if err := c.trail.Append(ctx, entry); err != nil {
		c.logger.Error("audit append failed",
			slog.String("path", path.String()), slog.Any("error", err))
	}
}

func (c *Coordinator) observeWrite(path core.Path, state State) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.WriteOutcome(path.Collection.String(), state)
	}
}

func (c *Coordinator) observeQueue() {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.QueueDepth(c.queue.len())
	}
}
