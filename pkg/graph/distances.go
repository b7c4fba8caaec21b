package graph

import "maps"

// Distances maps an ancestor id to its minimal edge count from the node.
type Distances map[string]int

// ChildDistances computes the distance map of a new child of parentID:
// every ancestor of the parent one step further away, plus the parent itself
// at distance 1.
func ChildDistances(parent Distances, parentID string) Distances {
	out := make(Distances, len(parent)+1)
	for a, d := range parent {
		out[a] = d + 1
	}
	out[parentID] = 1
	return out
}

// MergeDistances combines a stored map with an incoming one.
//
// Keys present on both sides keep the smaller value; keys present on one side
// are copied. changed holds the keys whose stored value moved down or that
// were not stored before, with their new value; it is what must be persisted
// and propagated to descendants. Neither input is modified.
func MergeDistances(old, incoming Distances) (merged, changed Distances) {
	merged = maps.Clone(old)
	if merged == nil {
		merged = make(Distances, len(incoming))
	}
	changed = make(Distances)
	for a, d := range incoming {
		if cur, ok := merged[a]; ok && cur <= d {
			continue
		}
		merged[a] = d
		changed[a] = d
	}
	return merged, changed
}

// Shift returns d with every distance increased by n.
func (d Distances) Shift(n int) Distances {
	out := make(Distances, len(d))
	for a, v := range d {
		out[a] = v + n
	}
	return out
}

// Keys returns the ancestor ids of d in unspecified order.
func (d Distances) Keys() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	return out
}
