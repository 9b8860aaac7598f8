// Package collection implements StreamingCollection, the facade
// consumers drive: insert/remove base documents, register a pipeline as
// a live view that emits incremental Events, or run one as a one-shot
// snapshot query.
package collection

import (
	"sync"
	"sync/atomic"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/plan"
	"github.com/TomNeyland/modash-go/ivm/rowexec"
	"github.com/TomNeyland/modash-go/ivm/store"
)

// Event is what a live view publishes on every base-collection change
// that affects it.
type Event struct {
	Deltas  []ivm.Delta
	Rebuilt bool
	Rows    []rowexec.RowDoc
	Err     error
}

// ChangeKind names a collection-level change notification.
type ChangeKind string

const (
	DataAdded      ChangeKind = "data-added"
	DataRemoved    ChangeKind = "data-removed"
	ResultUpdated  ChangeKind = "result-updated"
	TransformError ChangeKind = "transform-error"
)

// ChangeEvent is delivered synchronously to listeners registered via
// OnChange, during the operation that produced it. Handlers must not
// re-enter the collection.
type ChangeEvent struct {
	Kind ChangeKind

	// DataAdded / DataRemoved
	NewDocuments     []*ivm.Document
	RemovedDocuments []*ivm.Document
	TotalCount       int

	// ResultUpdated
	Result   []*ivm.Document
	Pipeline ivm.Array

	// TransformError
	Err         error
	SourceEvent interface{}
}

type view struct {
	key       string
	pipeline  ivm.Array
	executor  *rowexec.PipelineExecutor
	refCount  int
	subs      map[int]chan Event
	nextSubID int
	lastGood  []rowexec.RowDoc
}

// StreamingCollection holds live base documents and any number of
// registered pipeline views over them.
type StreamingCollection struct {
	mu         sync.Mutex
	ctx        *ivm.EngineContext
	nextRowID  uint64
	generation uint64

	rows    map[uint64]*ivm.Document
	live    *store.LiveSet
	columns *store.ColumnStore
	dims    map[string]*store.Dimension

	views map[string]*view

	listeners      map[int]func(ChangeEvent)
	nextListenerID int

	sources map[string]chan struct{}

	registry *Registry
	name     string
}

// New creates an empty collection with a default EngineContext (a
// standard logger, a no-op tracer). registry (may be nil) resolves
// other collections by name for $lookup's "from".
func New(name string, registry *Registry) *StreamingCollection {
	return NewWithContext(name, registry, ivm.NewEngineContext())
}

// NewWithContext is New with an explicit EngineContext, for callers
// wiring a configured logger/tracer (e.g. from internal/config).
func NewWithContext(name string, registry *Registry, ctx *ivm.EngineContext) *StreamingCollection {
	c := &StreamingCollection{
		ctx:       ctx,
		rows:      make(map[uint64]*ivm.Document),
		live:      store.NewLiveSet(),
		columns:   store.NewColumnStore(),
		dims:      make(map[string]*store.Dimension),
		views:     make(map[string]*view),
		listeners: make(map[int]func(ChangeEvent)),
		sources:   make(map[string]chan struct{}),
		registry:  registry,
		name:      name,
	}
	if registry != nil {
		registry.register(name, c)
	}
	return c
}

// OnChange registers fn for collection-level change events, returning
// an unsubscribe function.
func (c *StreamingCollection) OnChange(fn func(ChangeEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *StreamingCollection) emitLocked(evt ChangeEvent) {
	for _, fn := range c.listeners {
		fn(evt)
	}
}

// Add inserts doc as a new base row and returns its assigned row id.
func (c *StreamingCollection) Add(doc *ivm.Document) (uint64, error) {
	defer c.ctx.StartSpan("StreamingCollection.add")()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(doc)
}

func (c *StreamingCollection) addLocked(doc *ivm.Document) (uint64, error) {
	rowID := c.nextRowID
	c.nextRowID++
	c.rows[rowID] = doc
	c.live.Insert(rowID)
	c.projectIntoStoreLocked(rowID, doc)
	atomic.AddUint64(&c.generation, 1)
	c.ctx.Logger.WithField("collection", c.name).WithField("rowID", rowID).Debug("row added")

	c.fanOutLocked(func(v *view) (rowexec.Result, error) { return v.executor.Insert(rowID, doc) })
	c.emitLocked(ChangeEvent{
		Kind:         DataAdded,
		NewDocuments: []*ivm.Document{doc},
		TotalCount:   int(c.live.Count()),
	})
	return rowID, nil
}

// AddBulk inserts docs in order, returning their assigned row ids. All
// views observe the deltas in the same array order; listeners receive a
// single data-added event covering the batch.
func (c *StreamingCollection) AddBulk(docs []*ivm.Document) ([]uint64, error) {
	defer c.ctx.StartSpan("StreamingCollection.addBulk")()

	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(docs))
	for _, doc := range docs {
		rowID := c.nextRowID
		c.nextRowID++
		c.rows[rowID] = doc
		c.live.Insert(rowID)
		c.projectIntoStoreLocked(rowID, doc)
		atomic.AddUint64(&c.generation, 1)
		d := doc
		id := rowID
		c.fanOutLocked(func(v *view) (rowexec.Result, error) { return v.executor.Insert(id, d) })
		ids = append(ids, rowID)
	}
	if len(docs) > 0 {
		c.emitLocked(ChangeEvent{
			Kind:         DataAdded,
			NewDocuments: docs,
			TotalCount:   int(c.live.Count()),
		})
	}
	return ids, nil
}

// Remove retracts rowID from the collection.
func (c *StreamingCollection) Remove(rowID uint64) error {
	defer c.ctx.StartSpan("StreamingCollection.remove")()

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.removeLocked(rowID)
	return err
}

func (c *StreamingCollection) removeLocked(rowID uint64) (*ivm.Document, error) {
	doc, ok := c.rows[rowID]
	if !ok {
		return nil, nil
	}
	delete(c.rows, rowID)
	c.live.Remove(rowID)
	for _, d := range c.dims {
		d.Remove(rowID)
	}
	atomic.AddUint64(&c.generation, 1)
	c.ctx.Logger.WithField("collection", c.name).WithField("rowID", rowID).Debug("row removed")

	c.fanOutLocked(func(v *view) (rowexec.Result, error) { return v.executor.Remove(rowID) })
	c.emitLocked(ChangeEvent{
		Kind:             DataRemoved,
		RemovedDocuments: []*ivm.Document{doc},
		TotalCount:       int(c.live.Count()),
	})
	return doc, nil
}

// RemoveByQuery removes every live row matching spec's filter predicate
// and returns the removed documents.
func (c *StreamingCollection) RemoveByQuery(spec interface{}) ([]*ivm.Document, error) {
	defer c.ctx.StartSpan("StreamingCollection.removeByQuery")()

	pred, err := rowexec.CompilePredicate(spec)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var toRemove []uint64
	if candidates, ok := c.probeCandidatesLocked(spec); ok {
		for _, rowID := range candidates {
			if c.live.IsSet(rowID) && pred(c.rows[rowID]) {
				toRemove = append(toRemove, rowID)
			}
		}
	} else {
		c.live.Iterate(func(rowID uint64) bool {
			if pred(c.rows[rowID]) {
				toRemove = append(toRemove, rowID)
			}
			return true
		})
	}

	removed := make([]*ivm.Document, 0, len(toRemove))
	for _, id := range toRemove {
		doc, err := c.removeLocked(id)
		if err != nil {
			return removed, err
		}
		if doc != nil {
			removed = append(removed, doc)
		}
	}
	return removed, nil
}

// RemoveFirst removes the n oldest live rows (lowest row ids) and
// returns the removed documents.
func (c *StreamingCollection) RemoveFirst(n int) ([]*ivm.Document, error) {
	defer c.ctx.StartSpan("StreamingCollection.removeFirst")()

	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []uint64
	c.live.Iterate(func(rowID uint64) bool {
		if len(ids) >= n {
			return false
		}
		ids = append(ids, rowID)
		return true
	})
	return c.removeIDsLocked(ids)
}

// RemoveLast removes the n newest live rows (highest row ids) and
// returns the removed documents, oldest first.
func (c *StreamingCollection) RemoveLast(n int) ([]*ivm.Document, error) {
	defer c.ctx.StartSpan("StreamingCollection.removeLast")()

	c.mu.Lock()
	defer c.mu.Unlock()
	var all []uint64
	c.live.Iterate(func(rowID uint64) bool {
		all = append(all, rowID)
		return true
	})
	if n > len(all) {
		n = len(all)
	}
	return c.removeIDsLocked(all[len(all)-n:])
}

func (c *StreamingCollection) removeIDsLocked(ids []uint64) ([]*ivm.Document, error) {
	removed := make([]*ivm.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := c.removeLocked(id)
		if err != nil {
			return removed, err
		}
		if doc != nil {
			removed = append(removed, doc)
		}
	}
	return removed, nil
}

// Count returns the number of live base rows.
func (c *StreamingCollection) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.live.Count())
}

// GetDocuments returns defensive copies of every live document in
// insertion order.
func (c *StreamingCollection) GetDocuments() []*ivm.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ivm.Document, 0, c.live.Count())
	c.live.Iterate(func(rowID uint64) bool {
		out = append(out, c.rows[rowID].Clone())
		return true
	})
	return out
}

// Clear removes every row, tears down every view's incremental state,
// and detaches every event source, keeping the collection usable.
func (c *StreamingCollection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[uint64]*ivm.Document)
	c.live = store.NewLiveSet()
	c.columns = store.NewColumnStore()
	c.dims = make(map[string]*store.Dimension)
	atomic.AddUint64(&c.generation, 1)
	for _, v := range c.views {
		if _, err := v.executor.Rebuild(); err != nil {
			c.ctx.Logger.WithField("collection", c.name).WithField("view", v.key).WithError(err).Error("rebuild after clear failed")
		}
	}
	for _, done := range c.sources {
		close(done)
	}
	c.sources = make(map[string]chan struct{})
}

// Destroy releases every view, subscriber channel, listener, and event
// source. The collection must not be used afterwards.
func (c *StreamingCollection) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.views {
		for _, ch := range v.subs {
			close(ch)
		}
	}
	c.views = make(map[string]*view)
	c.listeners = make(map[int]func(ChangeEvent))
	for _, done := range c.sources {
		close(done)
	}
	c.sources = make(map[string]chan struct{})
	c.rows = make(map[uint64]*ivm.Document)
	c.live = store.NewLiveSet()
	c.columns = store.NewColumnStore()
	c.dims = make(map[string]*store.Dimension)
}

// baseRowsLocked returns the live rows in insertion order. Callers hold
// c.mu; the executors this is handed to only run under it.
func (c *StreamingCollection) baseRowsLocked() []rowexec.RowDoc {
	out := make([]rowexec.RowDoc, 0, c.live.Count())
	c.live.Iterate(func(rowID uint64) bool {
		out = append(out, rowexec.RowDoc{RowID: rowID, Doc: c.rows[rowID]})
		return true
	})
	return out
}

// MatchForeignField implements rowexec.ForeignSource for $lookup. It
// reads without locking: per the engine's cooperative single-threaded
// model, a foreign probe only ever runs inside the driving collection's
// own operation, and may target the driving collection itself.
func (c *StreamingCollection) MatchForeignField(foreignField string, value interface{}) []*ivm.Document {
	if d, ok := c.dims[foreignField]; ok {
		var out []*ivm.Document
		for _, rowID := range d.RowIDsForValue(value) {
			if !c.live.IsSet(rowID) {
				continue
			}
			doc := c.rows[rowID]
			if ivm.Equal(ivm.ResolvePath(doc, foreignField), value) {
				out = append(out, doc)
			}
		}
		return out
	}
	var out []*ivm.Document
	c.live.Iterate(func(rowID uint64) bool {
		doc := c.rows[rowID]
		if ivm.Equal(ivm.ResolvePath(doc, foreignField), value) {
			out = append(out, doc)
		}
		return true
	})
	return out
}

// Generation implements rowexec.ForeignSource.
func (c *StreamingCollection) Generation() uint64 {
	return atomic.LoadUint64(&c.generation)
}

func (c *StreamingCollection) foreignResolver() func(spec interface{}) (rowexec.ForeignSource, error) {
	return func(spec interface{}) (rowexec.ForeignSource, error) {
		doc, ok := spec.(*ivm.Document)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$lookup requires an object")
		}
		fromRaw, ok := doc.Get("from")
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$lookup requires from")
		}
		from, _ := fromRaw.(string)
		if c.registry == nil {
			return nil, ivm.ErrInvalidPipeline.New("$lookup requires a collection registry")
		}
		return c.registry.get(from)
	}
}

// Subscription identifies one caller's registration on a live view,
// returned by Stream and consumed by Unstream.
type Subscription struct {
	viewKey string
	subID   int
}

// Stream registers pipeline as a live view (reusing an existing one for
// an identical pipeline) and returns a channel of incremental Events
// plus the view's current snapshot.
func (c *StreamingCollection) Stream(pipeline ivm.Array) (*Subscription, []rowexec.RowDoc, <-chan Event, error) {
	defer c.ctx.StartSpan("StreamingCollection.stream")()

	key, err := CanonicalKey(pipeline)
	if err != nil {
		return nil, nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.views[key]
	if !ok {
		p, err := plan.Compile(pipeline)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(p.Stages) > 0 && p.Stages[0].Kind == plan.Match {
			// index the leading match's fields so equality probes against
			// this view's inputs stay cheap as the collection grows
			for _, dep := range p.Stages[0].FieldDeps {
				c.ensureDimensionLocked(dep)
			}
		}
		ex, err := rowexec.NewPipelineExecutor(p, c.baseRowsLocked, c.foreignResolver(), c.ctx.TopKThreshold)
		if err != nil {
			return nil, nil, nil, err
		}
		if _, err := ex.Rebuild(); err != nil {
			return nil, nil, nil, err
		}
		v = &view{key: key, pipeline: pipeline, executor: ex, subs: make(map[int]chan Event)}
		v.lastGood = ex.FinalRows()
		c.views[key] = v
		c.ctx.Logger.WithField("collection", c.name).WithField("view", key).Info("view created")
	}
	v.refCount++
	ch := make(chan Event, 16)
	subID := v.nextSubID
	v.nextSubID++
	v.subs[subID] = ch

	return &Subscription{viewKey: key, subID: subID}, v.lastGood, ch, nil
}

// GetStreamingResult returns the current materialized result of an
// already-registered pipeline, or false if no view exists for it.
func (c *StreamingCollection) GetStreamingResult(pipeline ivm.Array) ([]*ivm.Document, bool) {
	key, err := CanonicalKey(pipeline)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[key]
	if !ok {
		return nil, false
	}
	return docsOf(v.lastGood), true
}

// Unstream unregisters sub from its view, closing its channel and
// tearing down the view's compiled executor once no subscriber remains.
func (c *StreamingCollection) Unstream(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[sub.viewKey]
	if !ok {
		return
	}
	if ch, ok := v.subs[sub.subID]; ok {
		close(ch)
		delete(v.subs, sub.subID)
	}
	v.refCount--
	if v.refCount <= 0 {
		delete(c.views, sub.viewKey)
		c.ctx.Logger.WithField("collection", c.name).WithField("view", sub.viewKey).Info("view torn down")
	}
}

// Snapshot compiles pipeline, runs it once against the current base
// rows, and returns the resulting documents without registering a live
// view. This is the batch execution path live views fall back to on a
// soft failure.
func (c *StreamingCollection) Snapshot(pipeline ivm.Array) ([]*ivm.Document, error) {
	p, err := plan.Compile(pipeline)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, err := rowexec.NewPipelineExecutor(p, c.baseRowsLocked, c.foreignResolver(), c.ctx.TopKThreshold)
	if err != nil {
		return nil, err
	}
	if _, err := ex.Rebuild(); err != nil {
		return nil, err
	}
	return docsOf(ex.FinalRows()), nil
}

func docsOf(rows []rowexec.RowDoc) []*ivm.Document {
	out := make([]*ivm.Document, len(rows))
	for i, r := range rows {
		out[i] = r.Doc
	}
	return out
}

// fanOutLocked runs step against every registered view and publishes
// each view's outcome to its subscribers and the collection listeners.
// A step error is a soft failure for that view only: its incremental
// state is discarded and rebuilt from the current live set, and only if
// the rebuild also fails is the last good result retained and the error
// surfaced.
func (c *StreamingCollection) fanOutLocked(step func(v *view) (rowexec.Result, error)) {
	for _, v := range c.views {
		res, err := step(v)
		if err != nil {
			c.ctx.Logger.WithField("collection", c.name).WithField("view", v.key).WithError(err).
				Warn("incremental update failed, rebuilding view")
			if !c.rebuildViewLocked(v) {
				c.publish(v, Event{Err: err, Rows: v.lastGood})
				continue
			}
			v.lastGood = v.executor.FinalRows()
			c.publish(v, Event{Rebuilt: true, Rows: v.lastGood})
			c.emitLocked(ChangeEvent{Kind: ResultUpdated, Result: docsOf(v.lastGood), Pipeline: v.pipeline})
			continue
		}
		v.lastGood = v.executor.FinalRows()
		c.publish(v, Event{Deltas: res.Deltas, Rebuilt: res.Rebuilt, Rows: v.lastGood})
		c.emitLocked(ChangeEvent{Kind: ResultUpdated, Result: docsOf(v.lastGood), Pipeline: v.pipeline})
	}
}

// rebuildViewLocked retries a soft-failed view's full rebuild up to the
// configured RebuildRetries before giving up, reporting whether any
// attempt succeeded.
func (c *StreamingCollection) rebuildViewLocked(v *view) bool {
	retries := c.ctx.RebuildRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		_, rerr := v.executor.Rebuild()
		if rerr == nil {
			return true
		}
		c.ctx.Logger.WithField("collection", c.name).WithField("view", v.key).
			WithField("attempt", attempt).WithError(rerr).
			Error("view rebuild failed")
	}
	c.ctx.Logger.WithField("collection", c.name).WithField("view", v.key).
		Error("rebuild retries exhausted, keeping last good result")
	return false
}

func (c *StreamingCollection) publish(v *view, evt Event) {
	for _, ch := range v.subs {
		select {
		case ch <- evt:
		default:
			c.ctx.Logger.WithField("collection", c.name).WithField("view", v.key).Warn("subscriber channel full, dropping event")
		}
	}
}
