package mongostore

import (
	"slices"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

// fieldPath maps a node attribute or business field to its document path.
func fieldPath(field string) string {
	switch field {
	case graph.FieldID:
		return "_id"
	case graph.FieldKind, graph.FieldName, graph.FieldNB, graph.FieldDDS:
		return field
	}
	if graph.IsLinkField(field) {
		return field
	}
	return graph.FieldFields + "." + field
}

// inValues turns a filter value into the operand of an $in.
func inValues(v any) bson.A {
	switch vs := v.(type) {
	case []any:
		return bson.A(vs)
	case []string:
		out := make(bson.A, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	}
	return bson.A{v}
}

// selector builds the find filter for FindManyByFieldIn.
func selector(field string, values []string, filter graph.Filter) bson.D {
	var doc bson.D
	switch field {
	case "":
	case graph.FieldDDS:
		or := make(bson.A, 0, len(values))
		for _, v := range values {
			or = append(or, bson.D{{Key: graph.FieldDDS + "." + v, Value: bson.D{{Key: "$exists", Value: true}}}})
		}
		doc = append(doc, bson.E{Key: "$or", Value: or})
	default:
		doc = append(doc, bson.E{Key: fieldPath(field), Value: bson.D{{Key: "$in", Value: inValues(values)}}})
	}
	for _, f := range filter.Fields() {
		doc = append(doc, bson.E{Key: fieldPath(f), Value: bson.D{{Key: "$in", Value: inValues(filter[f])}}})
	}
	if doc == nil {
		doc = bson.D{}
	}
	return doc
}

// projectionDoc includes the requested attributes plus the kind.
func projectionDoc(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	seen := []string{graph.FieldKind}
	doc := bson.D{{Key: graph.FieldKind, Value: 1}}
	for _, f := range fields {
		p := fieldPath(f)
		if p == "_id" || slices.Contains(seen, p) {
			continue
		}
		seen = append(seen, p)
		doc = append(doc, bson.E{Key: p, Value: 1})
	}
	return doc
}

// updateDoc translates a delta into update operators. Every operator is
// idempotent except $inc, which callers only issue for novel links.
func updateDoc(d graph.Delta) bson.D {
	var doc bson.D
	if len(d.Add) > 0 {
		add := bson.D{}
		for _, f := range sortedKeys(d.Add) {
			add = append(add, bson.E{Key: f, Value: bson.D{{Key: "$each", Value: d.Add[f]}}})
		}
		doc = append(doc, bson.E{Key: "$addToSet", Value: add})
	}
	if len(d.Min) > 0 {
		lower := bson.D{}
		for _, k := range sortedKeys(d.Min) {
			lower = append(lower, bson.E{Key: graph.FieldDDS + "." + k, Value: d.Min[k]})
		}
		doc = append(doc, bson.E{Key: "$min", Value: lower})
	}
	if len(d.Set)+len(d.Fields) > 0 {
		set := bson.D{}
		for _, f := range sortedKeys(d.Set) {
			set = append(set, bson.E{Key: f, Value: d.Set[f]})
		}
		for _, f := range sortedKeys(d.Fields) {
			set = append(set, bson.E{Key: graph.FieldFields + "." + f, Value: d.Fields[f]})
		}
		doc = append(doc, bson.E{Key: "$set", Value: set})
	}
	if d.IncNB != 0 {
		doc = append(doc, bson.E{Key: "$inc", Value: bson.D{{Key: graph.FieldNB, Value: d.IncNB}}})
	}
	return doc
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
