package repo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NormalizeIDs converts a decoded BSON value into plain Go values that the
// rest of the service can serialize: ObjectIDs become hex strings, BSON
// dates become UTC times, and documents and arrays become maps and slices.
// It recurses through nested documents and arrays, so ids embedded in
// version entries or results are converted too.
func NormalizeIDs(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case *primitive.ObjectID:
		if t == nil {
			return nil
		}
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = NormalizeIDs(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = NormalizeIDs(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = NormalizeIDs(e)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = NormalizeIDs(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = NormalizeIDs(e)
		}
		return out
	}
	return v
}
