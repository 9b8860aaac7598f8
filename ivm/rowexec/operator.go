// Package rowexec implements the IVM operators: per-stage onAdd/onRemove
// handlers that translate an upstream Delta into zero or more downstream
// Deltas, maintaining just enough state (a LiveSet, a Dimension, a
// GroupState, an order-statistic tree) to avoid rescanning the whole
// collection on every change. Every operator also exposes a snapshot path
// so the batch executor can rebuild it from scratch when an incremental
// update's capability check fails.
package rowexec

import (
	"sort"

	"github.com/TomNeyland/modash-go/ivm"
)

// Operator is one compiled pipeline stage's incremental execution state.
type Operator interface {
	// OnAdd processes the insertion of rowID carrying doc (the stage's
	// upstream effective document), returning the downstream deltas it
	// produces. ok is false if this operator cannot process the addition
	// incrementally and the caller must fall back to Rebuild.
	OnAdd(rowID ivm.RowID, doc *ivm.Document) (deltas []ivm.Delta, ok bool, err error)

	// OnRemove processes the removal of rowID, returning the downstream
	// deltas it produces. ok is false if this operator cannot process the
	// removal incrementally.
	OnRemove(rowID ivm.RowID) (deltas []ivm.Delta, ok bool, err error)

	// EffectiveDoc returns the stage's current output document for rowID,
	// if rowID is currently live at this stage.
	EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool)

	// Snapshot rebuilds this operator's entire state from the given
	// upstream live rows, in upstream order. Used both for initial
	// construction and for soft-failure recovery.
	Snapshot(rows []RowDoc) error

	// Rows returns every currently-live (rowID, effective document) pair
	// this operator holds, in an operator-appropriate order.
	Rows() []RowDoc

	// View materializes this stage's ordered output given its upstream's
	// ordered output: filter stages intersect it, reshaping stages map
	// it, $limit/$skip slice it, $sort and $group replace it with their
	// own order. Chaining View from the base rows through every stage
	// yields the pipeline's result in its defined order.
	View(upstream []RowDoc) []RowDoc
}

// RowDoc pairs a row id with its document, the unit operators exchange.
type RowDoc struct {
	RowID ivm.RowID
	Doc   *ivm.Document
}

// sortRowDocs orders rows by row id — insertion order for base rows,
// (parent, index) order for unwind children — so map-backed operators
// report deterministic row sets.
func sortRowDocs(rows []RowDoc) {
	sort.Slice(rows, func(i, j int) bool {
		return ivm.CompareRowID(rows[i].RowID, rows[j].RowID) < 0
	})
}
