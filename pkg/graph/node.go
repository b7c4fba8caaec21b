package graph

import (
	"fmt"
	"maps"
	"slices"
)

// Kind identifies the collection a node lives in.
type Kind string

// Node kinds.
const (
	KindDomain Kind = "domain"
	KindDAip   Kind = "daip"
	KindPAip   Kind = "paip"
	KindDua    Kind = "dua"
)

// Kinds lists every node kind in dependency order.
var Kinds = []Kind{KindDomain, KindDAip, KindPAip, KindDua}

// Collection returns the storage collection name for the kind.
func (k Kind) Collection() string {
	switch k {
	case KindDomain:
		return "domains"
	case KindDAip:
		return "daips"
	case KindPAip:
		return "paips"
	case KindDua:
		return "duas"
	}
	return string(k)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown node kind %q", s)
	}
	return k, nil
}

// Attribute names shared by stores, filters and link relations.
const (
	FieldID       = "id"
	FieldKind     = "kind"
	FieldName     = "name"
	FieldUp       = "up"
	FieldDoms     = "doms"
	FieldChildren = "children"
	FieldDDS      = "dds"
	FieldNB       = "nb"
	FieldPAip     = "paip"
	FieldDua      = "dua"
	FieldDuas     = "duas"
	FieldFields   = "fields"
)

// Fields holds the business attributes of a node. The graph never interprets
// them; they are stored, filtered on, and indexed for search.
type Fields map[string]any

// Node is the stored record for every kind. Which attributes are meaningful
// depends on Kind:
//
//	Domain  Name, Children, NB
//	DAip    Up, Doms, DDS, NB, PAip, Dua
//	PAip    Up, Duas
//	Dua     Name
type Node struct {
	ID       string    `json:"id" bson:"_id"`
	Kind     Kind      `json:"kind" bson:"kind"`
	Name     string    `json:"name,omitempty" bson:"name,omitempty"`
	Up       []string  `json:"up,omitempty" bson:"up,omitempty"`
	Doms     []string  `json:"doms,omitempty" bson:"doms,omitempty"`
	Children []string  `json:"children,omitempty" bson:"children,omitempty"`
	DDS      Distances `json:"dds,omitempty" bson:"dds,omitempty"`
	NB       int64     `json:"nb" bson:"nb"`
	PAip     string    `json:"paip,omitempty" bson:"paip,omitempty"`
	Dua      string    `json:"dua,omitempty" bson:"dua,omitempty"`
	Duas     []string  `json:"duas,omitempty" bson:"duas,omitempty"`
	Fields   Fields    `json:"fields,omitempty" bson:"fields,omitempty"`
}

// Clone returns a deep copy of n (business field values are copied shallowly).
func (n Node) Clone() Node {
	out := n
	out.Up = slices.Clone(n.Up)
	out.Doms = slices.Clone(n.Doms)
	out.Children = slices.Clone(n.Children)
	out.Duas = slices.Clone(n.Duas)
	out.DDS = maps.Clone(n.DDS)
	out.Fields = maps.Clone(n.Fields)
	return out
}

// Parents returns the immediate parents of n, DAips first then Domains.
func (n Node) Parents() []string {
	out := make([]string, 0, len(n.Up)+len(n.Doms))
	out = append(out, n.Up...)
	return append(out, n.Doms...)
}

// linkSet returns a pointer to the set-valued link attribute named field.
func (n *Node) linkSet(field string) *[]string {
	switch field {
	case FieldUp:
		return &n.Up
	case FieldDoms:
		return &n.Doms
	case FieldChildren:
		return &n.Children
	case FieldDuas:
		return &n.Duas
	}
	return nil
}

// linkValue returns a pointer to the single-valued link attribute named field.
func (n *Node) linkValue(field string) *string {
	switch field {
	case FieldPAip:
		return &n.PAip
	case FieldDua:
		return &n.Dua
	}
	return nil
}

// Attr returns the values n holds for field, which may be a node attribute,
// a link field or a business field. Used for in-process filtering and index
// lookups.
func (n Node) Attr(field string) []any {
	switch field {
	case FieldID:
		return []any{n.ID}
	case FieldKind:
		return []any{string(n.Kind)}
	case FieldName:
		return []any{n.Name}
	case FieldPAip, FieldDua:
		v := *n.linkValue(field)
		if v == "" {
			return nil
		}
		return []any{v}
	case FieldDDS:
		out := make([]any, 0, len(n.DDS))
		for k := range n.DDS {
			out = append(out, k)
		}
		return out
	}
	if set := n.linkSet(field); set != nil {
		out := make([]any, len(*set))
		for i, v := range *set {
			out[i] = v
		}
		return out
	}
	v, ok := n.Fields[field]
	if !ok {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// IsLinkField reports whether field names a set- or single-valued link.
func IsLinkField(field string) bool {
	var n Node
	return n.linkSet(field) != nil || n.linkValue(field) != nil
}

func addToSet(set []string, values ...string) ([]string, []string) {
	var added []string
	for _, v := range values {
		if v == "" || slices.Contains(set, v) {
			continue
		}
		set = append(set, v)
		added = append(added, v)
	}
	return set, added
}

func missing(set, values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" && !slices.Contains(set, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
