package graph

// LinkType describes how a relation is stored.
type LinkType int

// Link types.
const (
	// SymLinkNN stores a set on both sides.
	SymLinkNN LinkType = iota
	// SymLink1N stores a single value on the From side and a set on the To side.
	SymLink1N
	// AsymLinkNN stores only a set on the To side (child to parents).
	AsymLinkNN
	// AsymLink1 stores a single value on the From side.
	AsymLink1
	// AsymLinkN stores a set on the From side.
	AsymLinkN
)

func (t LinkType) String() string {
	switch t {
	case SymLinkNN:
		return "sym-n-n"
	case SymLink1N:
		return "sym-1-n"
	case AsymLinkNN:
		return "asym-n-n"
	case AsymLink1:
		return "asym-1"
	case AsymLinkN:
		return "asym-n"
	}
	return "unknown"
}

// Relation is one typed link between two node kinds. FromField is the
// attribute on the From node, ToField the attribute on the To node; an empty
// field means that side does not store the link.
type Relation struct {
	Name      string
	Type      LinkType
	From      Kind
	FromField string
	To        Kind
	ToField   string
}

// Relations of the archival model.
var (
	DomainDAip = Relation{Name: "domain-daip", Type: SymLinkNN,
		From: KindDomain, FromField: FieldChildren, To: KindDAip, ToField: FieldDoms}
	DAipDAip = Relation{Name: "daip-daip", Type: AsymLinkNN,
		From: KindDAip, To: KindDAip, ToField: FieldUp}
	DAipPAip = Relation{Name: "daip-paip", Type: SymLink1N,
		From: KindDAip, FromField: FieldPAip, To: KindPAip, ToField: FieldUp}
	DAipDua = Relation{Name: "daip-dua", Type: AsymLink1,
		From: KindDAip, FromField: FieldDua, To: KindDua}
	PAipDua = Relation{Name: "paip-dua", Type: AsymLinkN,
		From: KindPAip, FromField: FieldDuas, To: KindDua}
)

// Relations lists every relation.
var Relations = []Relation{DomainDAip, DAipDAip, DAipPAip, DAipDua, PAipDua}

// ParentRelation returns the relation linking a parent of kind parent to a
// child of kind child.
func ParentRelation(parent, child Kind) (Relation, bool) {
	for _, r := range Relations {
		if r.From == parent && r.To == child && r.ToField != "" {
			return r, true
		}
	}
	return Relation{}, false
}

// fromDelta returns the update applied to the From node when linking it to the
// To node with id to.
func (r Relation) fromDelta(to string) Delta {
	switch r.Type {
	case SymLinkNN, AsymLinkN:
		return Delta{Add: map[string][]string{r.FromField: {to}}}
	case SymLink1N, AsymLink1:
		return Delta{Set: map[string]string{r.FromField: to}}
	}
	return Delta{}
}

// toDelta returns the update applied to the To node when linking it to the
// From node with id from.
func (r Relation) toDelta(from string) Delta {
	if r.ToField == "" {
		return Delta{}
	}
	d := Delta{Add: map[string][]string{r.ToField: {from}}}
	if r.To == KindDAip {
		d.Min = Distances{from: 1}
	}
	return d
}
