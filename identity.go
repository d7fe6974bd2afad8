package parcache

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Identity is the explicit, declared identity of a utility function. Runtime
// state of a closure cannot be fingerprinted reliably across processes, so
// callers declare everything that affects the function's output instead:
// a scorer name, a version that stands in for the implementation's code
// identity, and the captured configuration fields.
type Identity struct {
	// Scorer names the utility implementation, e.g. "knn-accuracy".
	Scorer string

	// Version must change whenever the implementation's behavior changes.
	Version string

	// Config holds the captured configuration fields that influence the
	// score. Values must be canonically encodable; anything that is not
	// (functions, channels, NaN, cycles) fails with ErrUnstableFingerprint.
	Config map[string]any
}

// Validate checks that the identity can produce a stable fingerprint.
func (id Identity) Validate(floatDigits int) error {
	if id.Scorer == "" {
		return fmt.Errorf("%w: identity requires a scorer name", ErrUnstableFingerprint)
	}
	_, err := id.canonical(floatDigits)
	return err
}

func (id Identity) canonical(floatDigits int) ([]byte, error) {
	buf := []byte(`{"scorer":`)
	buf = strconv.AppendQuote(buf, id.Scorer)
	buf = append(buf, `,"version":`...)
	buf = strconv.AppendQuote(buf, id.Version)
	buf = append(buf, `,"config":`...)
	cfg, err := canonicalize(id.Config, floatDigits)
	if err != nil {
		return nil, err
	}
	buf = append(buf, cfg...)
	buf = append(buf, '}')
	return buf, nil
}

// canonicalize produces a deterministic encoding of v. Maps are emitted in
// sorted key order and floats are rounded to floatDigits significant digits
// so representation noise never changes a key.
func canonicalize(v any, floatDigits int) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		return strconv.AppendBool(nil, val), nil
	case string:
		return strconv.AppendQuote(nil, val), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case uint64:
		return strconv.AppendUint(nil, val, 10), nil
	case float32:
		return canonicalFloat(float64(val), floatDigits)
	case float64:
		return canonicalFloat(val, floatDigits)
	case []int:
		out := []byte{'['}
		for i, n := range val {
			if i > 0 {
				out = append(out, ',')
			}
			out = strconv.AppendInt(out, int64(n), 10)
		}
		return append(out, ']'), nil
	case []any:
		return canonicalSlice(val, floatDigits)
	case map[string]any:
		return canonicalMap(val, floatDigits)
	default:
		// Structs and typed slices keep encoding/json's deterministic field
		// and key order; unencodable values (func, chan, cycles) fail loudly.
		out, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnstableFingerprint, err)
		}
		return out, nil
	}
}

func canonicalFloat(v float64, digits int) ([]byte, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: float value %v has no canonical form", ErrUnstableFingerprint, v)
	}
	if digits <= 0 {
		digits = defaultFloatDigits
	}
	return []byte(strconv.FormatFloat(v, 'g', digits, 64)), nil
}

func canonicalSlice(s []any, floatDigits int) ([]byte, error) {
	out := []byte{'['}
	for i, v := range s {
		if i > 0 {
			out = append(out, ',')
		}
		enc, err := canonicalize(v, floatDigits)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return append(out, ']'), nil
}

func canonicalMap(m map[string]any, floatDigits int) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, k)
		out = append(out, ':')
		enc, err := canonicalize(m[k], floatDigits)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return append(out, '}'), nil
}
