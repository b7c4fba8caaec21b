// Package graph implements the archival object graph: Domains, DAips, PAips
// and retention rules, the typed links between them, and the per-node
// ancestor-distance index.
//
// # Model
//
// A Domain is a named root. A DAip is an internal node with one or more
// immediate parents (DAips in "up", Domains in "doms"). A PAip is a terminal
// content node attached to a DAip. Retention rules ("duas") are named records
// referenced by DAips and PAips.
//
// Nodes are stored by id in one collection per [Kind]. There is no in-memory
// pointer graph; every relation is a set of ids, and every mutation is an
// additive partial update applied through [Store.UpdateLinkSets].
//
// # Ancestor distances
//
// Every DAip carries a [Distances] map from ancestor id to the length of the
// shortest parent chain, with the immediate parent at distance 1:
//
//	dds(child) = {a: d+1 for (a, d) in dds(parent)} ∪ {parent: 1}
//
// Re-submitting a node merges the stored and incoming maps key by key,
// keeping the minimum. See [ChildDistances] and [MergeDistances].
//
// # Manager
//
// [Manager] is the entry point for ingest. It creates nodes, merges
// re-submissions, keeps both sides of symmetric links in step, counts
// children, and (when [Manager.Propagate] is set) pushes improved distances
// down to descendants that already exist.
package graph
