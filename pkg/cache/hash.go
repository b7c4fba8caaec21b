package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer derives cache keys.
type Keyer interface {
	// ChainKey returns the key of a resolved stage chain. sources holds one
	// canonical description per stage, placeholders already expanded.
	ChainKey(sources []string, orderBy string) string

	// Prefix returns the key namespace, for bulk invalidation.
	Prefix() string
}

// DefaultKeyer hashes chain descriptions under the "chain" namespace.
type DefaultKeyer struct{}

// NewDefaultKeyer returns a DefaultKeyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// ChainKey hashes sources and orderBy.
func (DefaultKeyer) ChainKey(sources []string, orderBy string) string {
	return hashKey("chain", sources, orderBy)
}

// Prefix returns "chain:".
func (DefaultKeyer) Prefix() string { return "chain:" }

// hashKey builds prefix:sha256(json(parts)).
func hashKey(prefix string, parts ...any) string {
	data, _ := json.Marshal(parts)
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(hash[:]))
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
