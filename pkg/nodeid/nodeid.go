// Package nodeid generates node identifiers and manipulates id paths.
//
// A segment is 18 bytes encoded with unpadded URL-safe base64, which yields
// exactly [SegmentLen] characters:
//
//	bytes 0..5   creation time in milliseconds (big endian)
//	bytes 6..7   process-local sequence
//	bytes 8..17  random tail taken from a version 4 UUID
//
// A path is the concatenation of one segment per graph level, from the root
// towards the node. Because segments have a fixed width, the level number of a
// path is its length divided by [SegmentLen], and the first and last segments
// can be sliced off without decoding.
package nodeid

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// SegmentLen is the encoded length of one id segment.
	SegmentLen = 24

	rawLen = 18
)

// ErrInvalid is returned for strings that are not well-formed ids or paths.
var ErrInvalid = errors.New("invalid node id")

var (
	encoding = base64.RawURLEncoding
	sequence atomic.Uint32
)

// New returns a fresh single-segment id.
func New() string {
	return newAt(time.Now())
}

func newAt(t time.Time) string {
	var raw [rawLen]byte
	ms := uint64(t.UnixMilli())
	raw[0] = byte(ms >> 40)
	raw[1] = byte(ms >> 32)
	raw[2] = byte(ms >> 24)
	raw[3] = byte(ms >> 16)
	raw[4] = byte(ms >> 8)
	raw[5] = byte(ms)
	binary.BigEndian.PutUint16(raw[6:8], uint16(sequence.Add(1)))
	u := uuid.New()
	copy(raw[8:], u[6:])
	return encoding.EncodeToString(raw[:])
}

// Level returns the number of segments in path.
// Strings whose length is not a multiple of SegmentLen are treated as a
// single opaque segment.
func Level(path string) int {
	if path == "" {
		return 0
	}
	if len(path)%SegmentLen != 0 {
		return 1
	}
	return len(path) / SegmentLen
}

// First returns the first segment of path.
func First(path string) string {
	if Level(path) <= 1 {
		return path
	}
	return path[:SegmentLen]
}

// Last returns the last segment of path.
func Last(path string) string {
	if Level(path) <= 1 {
		return path
	}
	return path[len(path)-SegmentLen:]
}

// Join concatenates segments (or sub-paths) into one path.
func Join(parts ...string) string {
	return strings.Join(parts, "")
}

// Split breaks path into its segments.
func Split(path string) []string {
	n := Level(path)
	if n <= 1 {
		if path == "" {
			return nil
		}
		return []string{path}
	}
	out := make([]string, n)
	for i := range out {
		out[i] = path[i*SegmentLen : (i+1)*SegmentLen]
	}
	return out
}

// Validate checks that every segment of path decodes to a well-formed id.
func Validate(path string) error {
	if path == "" || len(path)%SegmentLen != 0 {
		return fmt.Errorf("%w: %q", ErrInvalid, path)
	}
	for _, seg := range Split(path) {
		if _, err := decodeSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func decodeSegment(seg string) ([]byte, error) {
	if len(seg) != SegmentLen {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, seg)
	}
	raw, err := encoding.DecodeString(seg)
	if err != nil || len(raw) != rawLen {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, seg)
	}
	return raw, nil
}
