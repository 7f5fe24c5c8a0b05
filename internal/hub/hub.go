// Package hub hosts the single logical owner of the graph: one goroutine
// through which every mutation is serialized. Searches never pass through
// the owner; they read the latest committed snapshot from an atomic pointer
// and run in the caller's goroutine, so a long search neither blocks nor is
// blocked by mutations.
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/internal/metrics"
	"github.com/topograph/topograph/internal/record"
	"github.com/topograph/topograph/internal/subscriptions"
	"github.com/topograph/topograph/internal/traverse"
	"github.com/topograph/topograph/pkg/types"
)

const persistTimeout = 10 * time.Second

type publishReq struct {
	entries []types.Entry
	opts    types.PublishOptions
	reply   chan error
}

type subscribeReq struct {
	step  types.StepFunc
	acc   any
	start string
	opts  types.SubscribeOptions
	reply chan subscribeResult
}

type subscribeResult struct {
	id  string
	err error
}

// Hub owns the graph. Create one with Open, release it with Close.
type Hub struct {
	log     *zap.Logger
	records record.Store
	subs    *subscriptions.Manager

	snap atomic.Pointer[graph.Snapshot]

	pubCh chan *publishReq
	subCh chan *subscribeReq
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	seq   uint64
}

// Open starts the owner goroutine, warm-starting the in-memory graph from
// the durable record store.
func Open(ctx context.Context, records record.Store, log *zap.Logger) (*Hub, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if records == nil {
		records = record.Discard()
	}

	snap, err := warmStart(ctx, records)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		log:     log,
		records: records,
		subs:    subscriptions.NewManager(log),
		pubCh:   make(chan *publishReq),
		subCh:   make(chan *subscribeReq),
		done:    make(chan struct{}),
	}
	h.snap.Store(snap)

	h.wg.Add(1)
	go h.loop()

	log.Info("graph owner started",
		zap.Int("identifiers", snap.IdentifierCount()),
		zap.Int("links", snap.LinkCount()))
	return h, nil
}

// warmStart replays the durable records into an initial snapshot through the
// normal persistent-batch path.
func warmStart(ctx context.Context, records record.Store) (*graph.Snapshot, error) {
	contents, err := records.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading records: %v", types.ErrUnavailable, err)
	}
	entries := make([]types.Entry, 0, len(contents.Identifiers)+len(contents.Links))
	for id, meta := range contents.Identifiers {
		entries = append(entries, types.IdentifierEntry(id, types.Set(meta)))
	}
	for _, l := range contents.Links {
		entries = append(entries, types.LinkEntry(
			types.Endpoint{ID: l.A}, types.Endpoint{ID: l.B}, types.Set(l.Meta)))
	}
	snap, _, err := graph.Apply(graph.Empty(), entries, true)
	if err != nil {
		return nil, fmt.Errorf("replaying records: %w", err)
	}
	return snap, nil
}

// Close stops the owner and tears down every subscription. Pending publishes
// fail with ErrUnavailable.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
	h.subs.Close()
	h.log.Info("graph owner stopped")
}

// Publish validates and applies one batch. It returns once the batch is
// committed (and durably recorded, for persistent batches); subscription
// re-evaluation happens afterwards, asynchronously.
func (h *Hub) Publish(ctx context.Context, entries []types.Entry, opts types.PublishOptions) error {
	req := &publishReq{entries: entries, opts: opts, reply: make(chan error, 1)}
	select {
	case h.pubCh <- req:
	case <-h.done:
		return fmt.Errorf("graph owner closed: %w", types.ErrUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-h.done:
		return fmt.Errorf("graph owner closed: %w", types.ErrUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search folds step over the current snapshot. It runs entirely in the
// caller's goroutine against an immutable view: mutations committed after
// the call starts are not observed.
func (h *Hub) Search(step types.StepFunc, acc any, start string, opts types.SearchOptions) (any, error) {
	res, err := traverse.Run(h.snap.Load(), step, acc, start, opts)
	if err != nil {
		metrics.SearchTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	metrics.SearchTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	return res.Acc, nil
}

// Get returns an identifier's metadata and its neighbors from the current
// snapshot.
func (h *Hub) Get(id string) (types.Value, []string, error) {
	snap := h.snap.Load()
	meta, ok := snap.Identifier(id)
	if !ok {
		return nil, nil, fmt.Errorf("identifier %q: %w", id, types.ErrNotFound)
	}
	return meta, snap.Neighbors(id), nil
}

// Snapshot returns the current committed snapshot.
func (h *Hub) Snapshot() *graph.Snapshot {
	return h.snap.Load()
}

// Subscribe registers a standing search. Registration is serialized with
// publishes so no mutation can fall between the initial snapshot and the
// subscription becoming visible to events.
func (h *Hub) Subscribe(ctx context.Context, step types.StepFunc, acc any, start string, opts types.SubscribeOptions) (string, error) {
	req := &subscribeReq{step: step, acc: acc, start: start, opts: opts, reply: make(chan subscribeResult, 1)}
	select {
	case h.subCh <- req:
	case <-h.done:
		return "", fmt.Errorf("graph owner closed: %w", types.ErrUnavailable)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.id, res.err
	case <-h.done:
		return "", fmt.Errorf("graph owner closed: %w", types.ErrUnavailable)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Unsubscribe removes a subscription; unknown ids succeed.
func (h *Hub) Unsubscribe(id string) {
	h.subs.Unsubscribe(id)
}

// SubscriptionCount returns the number of live subscriptions.
func (h *Hub) SubscriptionCount() int {
	return h.subs.Count()
}

func (h *Hub) loop() {
	defer h.wg.Done()
	for {
		select {
		case req := <-h.pubCh:
			req.reply <- h.publish(req)
		case req := <-h.subCh:
			id, err := h.subs.Subscribe(h.snap.Load(), req.step, req.acc, req.start, req.opts)
			req.reply <- subscribeResult{id: id, err: err}
		case <-h.done:
			return
		}
	}
}

func (h *Hub) publish(req *publishReq) error {
	class := req.opts.Persistence
	persistent := class == types.Persistent

	next, changes, err := graph.Apply(h.snap.Load(), req.entries, persistent)
	if err != nil {
		metrics.PublishTotal.WithLabelValues(class.String(), metrics.OutcomeError).Inc()
		return err
	}

	// Durable layer first: a batch that cannot be recorded is not
	// committed anywhere.
	if persistent && !changes.Empty() {
		if err := h.persist(changes); err != nil {
			metrics.PublishTotal.WithLabelValues(class.String(), metrics.OutcomeError).Inc()
			h.log.Error("durable store write failed", zap.Error(err))
			return fmt.Errorf("%w: durable store: %v", types.ErrUnavailable, err)
		}
	}

	h.seq++
	h.snap.Store(next)
	metrics.PublishTotal.WithLabelValues(class.String(), metrics.OutcomeOK).Inc()

	if !changes.Empty() {
		h.subs.Notify(subscriptions.Event{
			Seq:     h.seq,
			Snap:    next,
			Touched: changes.Touched(),
			Class:   class,
		})
	}
	return nil
}

func (h *Hub) persist(changes *graph.ChangeSet) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return h.records.Apply(ctx, changes)
}
