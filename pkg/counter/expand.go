package counter

import (
	"regexp"
	"strconv"

	"github.com/matzehuels/aipgraph/pkg/errors"
)

var placeholder = regexp.MustCompile(`\$\{(#?)([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// Expand substitutes placeholders in s. Variables come from vars, counters
// from reg. Every ${#name} occurrence consumes one counter value.
func Expand(s string, vars map[string]string, reg *Registry) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		if firstErr != nil {
			return m
		}
		sub := placeholder.FindStringSubmatch(m)
		isCounter, name := sub[1] == "#", sub[2]
		if isCounter {
			v, err := reg.Next(name)
			if err != nil {
				firstErr = errors.Wrap(errors.ErrCodeConfig, err, "placeholder %s", m)
				return m
			}
			return strconv.FormatInt(v, 10)
		}
		v, ok := vars[name]
		if !ok {
			firstErr = errors.New(errors.ErrCodeConfig, "undefined variable %q", name)
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ExpandValue expands placeholders inside strings held by v, recursing into
// slices and maps. A string that is exactly one counter placeholder becomes
// an int64.
func ExpandValue(v any, vars map[string]string, reg *Registry) (any, error) {
	switch x := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatchIndex(x); m != nil && m[0] == 0 && m[1] == len(x) && m[3] > m[2] {
			n, err := reg.Next(x[m[4]:m[5]])
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeConfig, err, "placeholder %s", x)
			}
			return n, nil
		}
		return Expand(x, vars, reg)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := ExpandValue(e, vars, reg)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case []string:
		out := make([]string, len(x))
		for i, e := range x {
			ev, err := Expand(e, vars, reg)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ev, err := ExpandValue(e, vars, reg)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	}
	return v, nil
}

// HasPlaceholder reports whether s contains a placeholder.
func HasPlaceholder(s string) bool {
	return placeholder.MatchString(s)
}
