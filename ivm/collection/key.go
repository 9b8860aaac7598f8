package collection

import (
	"sort"

	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"github.com/TomNeyland/modash-go/ivm"
)

// toPlain converts the ivm value domain into a deterministic msgpack-
// marshalable form. Documents become a tagged, key-sorted flat pair
// list rather than a Go map — map marshaling order is not stable, and
// the whole point of the key is that two structurally identical
// pipelines serialize identically. Arrays get their own tag so a
// document can never collide with an array of its own pairs.
func toPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case *ivm.Document:
		keys := append([]string(nil), t.Keys()...)
		sort.Strings(keys)
		out := make([]interface{}, 0, 2*len(keys)+1)
		out = append(out, "d")
		for _, k := range keys {
			val, _ := t.Get(k)
			out = append(out, k, toPlain(val))
		}
		return out
	case ivm.Array:
		out := make([]interface{}, 0, len(t)+1)
		out = append(out, "a")
		for _, e := range t {
			out = append(out, toPlain(e))
		}
		return out
	default:
		return t
	}
}

// CanonicalKey returns a deterministic byte-string key for a pipeline,
// used to dedup identical live views so two callers subscribing to the
// same pipeline share one compiled executor instead of maintaining
// duplicate incremental state.
func CanonicalKey(pipeline ivm.Array) (string, error) {
	b, err := msgpack.Marshal(toPlain(pipeline))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
