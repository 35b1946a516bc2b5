package delivery

import (
	"context"
	"errors"
	"group_chat/internal/protocol/envelope"
	"group_chat/internal/utils/log"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type Status int32

const (
	StatusPending Status = iota
	StatusSent
	StatusAcknowledged
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

var ErrClosed = errors.New("delivery queue: transport is not open")

type (
	// Sender writes one envelope to the current transport.
	Sender interface {
		Send(ctx context.Context, env envelope.ClientEnvelope) error
	}

	// AckFunc runs once the item is acknowledged. Items without a package
	// are completed with a success detail when their dependency resolves.
	AckFunc func(details envelope.AckDetails)

	Item struct {
		ID        string
		Package   envelope.ClientPackage
		DependsOn string

		seq    uint64
		status atomic.Int32
		onAck  AckFunc
	}

	Queue struct {
		mu     sync.Mutex
		sender Sender
		open   bool

		// every unacknowledged item, by correlation id
		items map[string]*Item
		// pending items keyed by the id they wait on; "" holds items
		// waiting for an open transport
		waiting map[string][]*Item
		// items that were sent on a lost transport, in send order
		replay []*Item
		// correlation id of the authorization handshake gating new work
		resuming string

		seq     uint64
		newID   func() string
		journal Journal
		owner   string
	}

	Option func(*Queue)
)

func (i *Item) Status() Status {
	return Status(i.status.Load())
}

func (i *Item) transition(from, to Status) bool {
	return i.status.CompareAndSwap(int32(from), int32(to))
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(f func() string) Option {
	return func(q *Queue) { q.newID = f }
}

// WithJournal persists unacknowledged items under owner so they survive a
// process restart. See Restore.
func WithJournal(j Journal, owner string) Option {
	return func(q *Queue) {
		q.journal = j
		q.owner = owner
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		items:   make(map[string]*Item),
		waiting: make(map[string][]*Item),
		newID:   envelope.NewID,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Open attaches a transport and sends every item that was only waiting for
// one, in enqueue order.
func (q *Queue) Open(ctx context.Context, sender Sender) error {
	q.mu.Lock()
	q.sender = sender
	q.open = true
	ready := q.waiting[""]
	delete(q.waiting, "")
	done, err := q.releaseLocked(ctx, ready)
	q.mu.Unlock()

	runCallbacks(done)
	return err
}

// Enqueue registers pkg for delivery. The correlation id is assigned here,
// so the returned item's ID can be used as dependsOn for later items. A nil
// pkg creates a callback-only item.
func (q *Queue) Enqueue(ctx context.Context, pkg envelope.ClientPackage, onAck AckFunc, dependsOn string) (*Item, error) {
	q.mu.Lock()

	q.seq++
	item := &Item{
		ID:        q.newID(),
		Package:   pkg,
		DependsOn: dependsOn,
		seq:       q.seq,
		onAck:     onAck,
	}
	if item.DependsOn == "" && q.resuming != "" {
		item.DependsOn = q.resuming
	}
	q.items[item.ID] = item
	q.persist(ctx, item)

	// A dependency that is no longer tracked has already been acknowledged.
	if dep, ok := q.items[item.DependsOn]; item.DependsOn != "" && ok && dep.Status() != StatusAcknowledged {
		q.waiting[item.DependsOn] = append(q.waiting[item.DependsOn], item)
		q.mu.Unlock()
		return item, nil
	}

	if !q.open && item.Package != nil {
		q.waiting[""] = append(q.waiting[""], item)
		q.mu.Unlock()
		return item, nil
	}

	done, err := q.releaseLocked(ctx, []*Item{item})
	q.mu.Unlock()

	runCallbacks(done)
	return item, err
}

// Acknowledge applies an acknowledgement from the server. Unknown or
// repeated package ids are ignored; it reports whether an item matched.
func (q *Queue) Acknowledge(ctx context.Context, ack envelope.Acknowledgement) bool {
	q.mu.Lock()
	item, ok := q.items[ack.PackageID]
	if !ok || !item.transition(StatusSent, StatusAcknowledged) {
		q.mu.Unlock()
		return false
	}
	delete(q.items, item.ID)
	q.forget(ctx, item)
	if q.resuming == item.ID {
		q.resuming = ""
	}
	q.mu.Unlock()

	if item.onAck != nil {
		item.onAck(ack.Details)
	}

	q.mu.Lock()
	ready := q.waiting[item.ID]
	delete(q.waiting, item.ID)
	done, err := q.releaseLocked(ctx, ready)
	q.mu.Unlock()

	runCallbacks(done)
	if err != nil {
		log.Warn("release dependents failed", zap.String("package_id", item.ID), zap.Error(err))
	}
	return true
}

// Detach is called when the transport is lost. Items sent but not yet
// acknowledged are kept for replay; authorization items belong to the dead
// session and are abandoned.
func (q *Queue) Detach() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.open = false
	q.sender = nil
	q.resuming = ""

	for _, item := range q.items {
		if item.Status() != StatusSent {
			continue
		}
		if isSessionPackage(item.Package) {
			q.replay = append(q.replay, q.abandonLocked(item)...)
			continue
		}
		item.transition(StatusSent, StatusPending)
		q.replay = append(q.replay, item)
	}
	sortBySeq(q.replay)
}

// Resume attaches a new transport and starts a fresh authorization
// handshake. Items from the lost transport are replayed in their original
// order once the handshake is acknowledged; work enqueued meanwhile waits
// behind them.
func (q *Queue) Resume(ctx context.Context, sender Sender, auth envelope.Authorization, onAck AckFunc) (*Item, error) {
	q.mu.Lock()

	q.sender = sender
	q.open = true

	q.seq++
	authItem := &Item{ID: q.newID(), Package: auth, seq: q.seq, onAck: onAck}
	q.items[authItem.ID] = authItem

	candidates := append(q.replay, q.waiting[""]...)
	q.replay = nil
	delete(q.waiting, "")

	var gated []*Item
	for len(candidates) > 0 {
		item := candidates[0]
		candidates = candidates[1:]
		if isSessionPackage(item.Package) {
			candidates = append(candidates, q.abandonLocked(item)...)
			continue
		}
		item.DependsOn = authItem.ID
		gated = append(gated, item)
	}
	sortBySeq(gated)
	q.waiting[authItem.ID] = append(gated, q.waiting[authItem.ID]...)
	q.resuming = authItem.ID

	_, err := q.releaseLocked(ctx, []*Item{authItem})
	q.mu.Unlock()

	return authItem, err
}

// Restore loads journaled items into the replay set, keeping dependents
// behind the items they wait on. Call it before Resume.
func (q *Queue) Restore(ctx context.Context) error {
	if q.journal == nil {
		return nil
	}
	records, err := q.journal.Load(ctx, q.owner)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var restored []*Item
	for _, rec := range records {
		if _, ok := q.items[rec.ID]; ok {
			continue
		}
		env, err := envelope.DecodeClient(rec.Frame)
		if err != nil {
			log.Warn("drop unreadable journal record", zap.String("package_id", rec.ID), zap.Error(err))
			continue
		}
		if rec.Seq > q.seq {
			q.seq = rec.Seq
		}
		item := &Item{ID: env.ID, Package: env.Package, DependsOn: rec.DependsOn, seq: rec.Seq}
		q.items[item.ID] = item
		restored = append(restored, item)
	}

	// Items still waiting on another restored item keep waiting on it; the
	// rest are replayed behind the next handshake.
	sortBySeq(restored)
	for _, item := range restored {
		if dep, ok := q.items[item.DependsOn]; item.DependsOn != "" && ok && dep != item {
			q.waiting[item.DependsOn] = append(q.waiting[item.DependsOn], item)
			continue
		}
		q.replay = append(q.replay, item)
	}
	sortBySeq(q.replay)
	return nil
}

// Len returns the number of unacknowledged items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// releaseLocked sends ready items in order. Callback-only items complete
// immediately and release their own dependents; their callbacks are
// returned so they run without the lock held.
func (q *Queue) releaseLocked(ctx context.Context, ready []*Item) ([]*Item, error) {
	var (
		done     []*Item
		firstErr error
	)

	for len(ready) > 0 {
		item := ready[0]
		ready = ready[1:]

		if item.Package == nil {
			if !item.transition(StatusPending, StatusAcknowledged) {
				continue
			}
			delete(q.items, item.ID)
			done = append(done, item)
			ready = append(ready, q.waiting[item.ID]...)
			delete(q.waiting, item.ID)
			continue
		}

		if !q.open {
			q.waiting[""] = append(q.waiting[""], item)
			continue
		}
		if !item.transition(StatusPending, StatusSent) {
			continue
		}

		err := q.sender.Send(ctx, envelope.ClientEnvelope{ID: item.ID, Package: item.Package})
		if err != nil {
			item.transition(StatusSent, StatusPending)
			q.open = false
			q.waiting[""] = append(q.waiting[""], item)
			if firstErr == nil {
				firstErr = errors.Join(ErrClosed, err)
			}
		}
	}

	return done, firstErr
}

// abandonLocked drops an item that belongs to a dead session and returns the
// items that were waiting on it.
func (q *Queue) abandonLocked(item *Item) []*Item {
	delete(q.items, item.ID)
	dependents := q.waiting[item.ID]
	delete(q.waiting, item.ID)
	return dependents
}

func (q *Queue) persist(ctx context.Context, item *Item) {
	if q.journal == nil || item.Package == nil || isSessionPackage(item.Package) {
		return
	}
	frame, err := envelope.EncodeClient(envelope.ClientEnvelope{ID: item.ID, Package: item.Package})
	if err != nil {
		log.Warn("encode journal record failed", zap.String("package_id", item.ID), zap.Error(err))
		return
	}
	rec := Record{ID: item.ID, DependsOn: item.DependsOn, Seq: item.seq, Frame: frame}
	if err := q.journal.Append(ctx, q.owner, rec); err != nil {
		log.Warn("journal append failed", zap.String("package_id", item.ID), zap.Error(err))
	}
}

func (q *Queue) forget(ctx context.Context, item *Item) {
	if q.journal == nil || item.Package == nil || isSessionPackage(item.Package) {
		return
	}
	if err := q.journal.Remove(ctx, q.owner, item.ID); err != nil {
		log.Warn("journal remove failed", zap.String("package_id", item.ID), zap.Error(err))
	}
}

func runCallbacks(items []*Item) {
	for _, item := range items {
		if item.onAck != nil {
			item.onAck(envelope.Success())
		}
	}
}

func isSessionPackage(pkg envelope.ClientPackage) bool {
	switch pkg.(type) {
	case envelope.Authorization, envelope.DeAuthorization:
		return true
	}
	return false
}

func sortBySeq(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].seq < items[j].seq })
}
