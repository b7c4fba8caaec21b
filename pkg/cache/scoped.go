package cache

// ScopedKeyer prefixes every key of an inner Keyer, so that several
// deployments (or test runs) can share one cache backend:
//
//	k := NewScopedKeyer(NewDefaultKeyer(), "archive-a:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer wraps inner, or the default keyer when inner is nil.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

// ChainKey returns the prefixed chain key.
func (k *ScopedKeyer) ChainKey(sources []string, orderBy string) string {
	return k.prefix + k.inner.ChainKey(sources, orderBy)
}

// Prefix returns the scope prefix joined with the inner prefix.
func (k *ScopedKeyer) Prefix() string {
	return k.prefix + k.inner.Prefix()
}
