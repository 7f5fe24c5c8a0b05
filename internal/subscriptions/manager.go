// Package subscriptions manages standing searches: each subscription re-runs
// its traversal when a qualifying mutation commits, computes the delta
// against its previous result and hands it to the subscriber.
package subscriptions

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/internal/metrics"
	"github.com/topograph/topograph/internal/traverse"
	"github.com/topograph/topograph/pkg/types"
)

// Event is one committed mutation as seen by subscriptions: the snapshot
// after the batch, what the batch touched, and its persistence class.
// Events arrive in commit order.
type Event struct {
	Seq     uint64
	Snap    *graph.Snapshot
	Touched map[string]struct{}
	Class   types.Persistence
}

type subscription struct {
	id    string
	start string
	step  types.StepFunc
	init  any
	opts  types.SubscribeOptions

	queue   *eventQueue
	removed sync.Once
	gone    atomic.Bool

	// Worker-goroutine state: the last accumulator and the identifier set
	// the last successful run visited. touched is nil until the initial
	// run completes, meaning every event is relevant. It is also read by
	// Notify, so both sit behind mu.
	mu      sync.Mutex
	lastAcc any
	touched map[string]struct{}
}

// Manager owns all subscriptions. Registration captures the snapshot the
// subscription starts from; every later event is routed through a
// per-subscription FIFO worker so one blocked subscriber never stalls the
// graph owner or other subscribers.
type Manager struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string]*subscription
	wg   sync.WaitGroup
}

// NewManager creates an empty subscription manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log, subs: make(map[string]*subscription)}
}

// Subscribe registers a standing search and returns its id. The start
// identifier must exist in snap. The initial traversal runs on the
// subscription's worker before any event is processed, so a slow step
// function never delays the caller or the graph owner.
func (m *Manager) Subscribe(snap *graph.Snapshot, step types.StepFunc, acc any, start string, opts types.SubscribeOptions) (string, error) {
	if !snap.HasIdentifier(start) {
		return "", fmt.Errorf("start identifier %q: %w", start, types.ErrNotFound)
	}

	sub := &subscription{
		id:      uuid.NewString(),
		start:   start,
		step:    step,
		init:    acc,
		opts:    opts,
		queue:   newEventQueue(),
		lastAcc: acc,
	}

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()
	metrics.SubscriptionsActive.Inc()

	m.wg.Add(1)
	go m.run(sub, snap)

	m.log.Debug("subscription registered",
		zap.String("subscription", sub.id),
		zap.String("start", start))
	return sub.id, nil
}

// Unsubscribe removes a subscription. Unknown or already-removed ids are a
// no-op: unsubscribe is defined to succeed. No delivery happens after
// Unsubscribe returns; an in-flight re-evaluation may finish but its result
// is discarded.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.remove(sub)
	m.log.Debug("subscription removed", zap.String("subscription", id))
}

// remove tears a subscription down exactly once. Closing the queue stops the
// worker and discards queued events.
func (m *Manager) remove(sub *subscription) {
	sub.removed.Do(func() {
		sub.gone.Store(true)
		sub.queue.close()
		metrics.SubscriptionsActive.Dec()
	})
}

// removeByID deletes a subscription that stopped itself (delta or delivery
// verdict) from the table.
func (m *Manager) removeByID(sub *subscription) {
	m.mu.Lock()
	delete(m.subs, sub.id)
	m.mu.Unlock()
	m.remove(sub)
}

// Notify fans a committed mutation out to every subscription it may affect.
// Called by the graph owner in commit order; only enqueues, never blocks on
// subscriber code.
func (m *Manager) Notify(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if !sub.opts.Trigger.Matches(ev.Class) {
			continue
		}
		if !sub.relevant(ev.Touched) {
			continue
		}
		sub.queue.push(ev)
	}
}

// relevant is the coarse reachability filter: re-evaluate iff the batch
// touched an identifier the last traversal visited (the start identifier is
// always in that set). Until the initial traversal has recorded a visited
// set, everything is relevant: a mutation committing during that window may
// touch identifiers the standing search covers, and the queue orders the
// re-evaluation after the initial run. False positives cost a wasted re-run;
// the visited set makes false negatives impossible, since only visited
// identifiers and links incident to them can influence a fold's outcome.
func (s *subscription) relevant(touched map[string]struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		return true
	}
	if len(s.touched) < len(touched) {
		for id := range s.touched {
			if _, ok := touched[id]; ok {
				return true
			}
		}
		return false
	}
	for id := range touched {
		if _, ok := s.touched[id]; ok {
			return true
		}
	}
	return false
}

// Count returns the number of live subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close removes every subscription and waits for the workers to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()
	for _, sub := range subs {
		m.remove(sub)
	}
	m.wg.Wait()
}

// run is the per-subscription worker: the initial traversal first, then one
// re-evaluation per queued event, in order.
func (m *Manager) run(sub *subscription, initial *graph.Snapshot) {
	defer m.wg.Done()

	res, err := traverse.Run(initial, sub.step, sub.init, sub.start, sub.opts.SearchOptions)
	if err != nil {
		// Keep the subscription: the initial accumulator stands in for
		// the first result and the next mutation retries the search.
		m.log.Warn("subscription initial search failed",
			zap.String("subscription", sub.id), zap.Error(err))
	} else {
		sub.mu.Lock()
		sub.lastAcc = res.Acc
		sub.touched = res.Touched
		sub.mu.Unlock()
	}

	for {
		ev, ok := sub.queue.pop()
		if !ok {
			return
		}
		m.evaluate(sub, ev)
	}
}

// evaluate re-runs the standing search against the post-mutation snapshot
// and applies the delta/delivery protocol.
func (m *Manager) evaluate(sub *subscription, ev Event) {
	metrics.SubscriptionEvaluations.Inc()

	res, err := traverse.Run(ev.Snap, sub.step, sub.init, sub.start, sub.opts.SearchOptions)
	if err != nil {
		// A vanished start identifier is routine (it may come back); a
		// step panic is subscriber misbehavior. Either way the previous
		// accumulator stays and the next mutation retries.
		if errors.Is(err, types.ErrNotFound) {
			m.log.Debug("subscription start unreachable",
				zap.String("subscription", sub.id), zap.Uint64("seq", ev.Seq))
		} else {
			m.log.Warn("subscription search failed",
				zap.String("subscription", sub.id), zap.Uint64("seq", ev.Seq), zap.Error(err))
		}
		return
	}

	sub.mu.Lock()
	prev := sub.lastAcc
	sub.touched = res.Touched
	sub.mu.Unlock()

	newAcc := res.Acc
	if reflect.DeepEqual(prev, newAcc) {
		return
	}

	delta := newAcc
	deliver := true
	if sub.opts.Delta != nil {
		d, ctrl, err := callDelta(sub.opts.Delta, prev, newAcc)
		if err != nil {
			m.log.Warn("subscription delta function failed",
				zap.String("subscription", sub.id), zap.Uint64("seq", ev.Seq), zap.Error(err))
			return
		}
		switch ctrl {
		case types.DeltaStop:
			m.removeByID(sub)
			return
		case types.DeltaNone:
			deliver = false
		default:
			delta = d
		}
	}

	stop := false
	if deliver && sub.opts.Delivery != nil {
		// Unsubscribe acknowledged while this re-evaluation was in
		// flight: the run completes but nothing is delivered.
		if sub.gone.Load() {
			return
		}
		ctrl, err := callDelivery(sub.opts.Delivery, delta)
		if err != nil {
			m.log.Warn("subscription delivery failed",
				zap.String("subscription", sub.id), zap.Uint64("seq", ev.Seq), zap.Error(err))
			return
		}
		metrics.SubscriptionDeliveries.Inc()
		stop = ctrl == types.DeliveryStop
	}

	sub.mu.Lock()
	sub.lastAcc = newAcc
	sub.mu.Unlock()

	if stop {
		m.removeByID(sub)
	}
}

func callDelta(fn types.DeltaFunc, old, new any) (delta any, ctrl types.DeltaControl, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delta function panicked: %v", r)
		}
	}()
	delta, ctrl = fn(old, new)
	return delta, ctrl, nil
}

func callDelivery(fn types.DeliveryFunc, delta any) (ctrl types.DeliveryControl, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery function panicked: %v", r)
		}
	}()
	ctrl = fn(delta)
	return ctrl, nil
}
