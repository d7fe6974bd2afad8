package parcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

const defaultFloatDigits = 12

// KeyBuilder derives stable cache keys from a utility's declared identity and
// its call arguments. Keys are pure functions of their inputs: the same
// identity and arguments produce the same key in every process and on every
// machine, which is what makes a hit written by one worker valid for another.
type KeyBuilder struct {
	prefix      string
	floatDigits int
}

// KeyOption configures a KeyBuilder.
type KeyOption func(*KeyBuilder)

// WithKeyPrefix namespaces generated keys.
func WithKeyPrefix(prefix string) KeyOption {
	return func(b *KeyBuilder) { b.prefix = prefix }
}

// WithFloatDigits sets how many significant digits float arguments keep
// before hashing. Tighter rounding trades key precision for fewer spurious
// misses from representation noise.
func WithFloatDigits(digits int) KeyOption {
	return func(b *KeyBuilder) { b.floatDigits = digits }
}

// NewKeyBuilder creates a key builder.
func NewKeyBuilder(opts ...KeyOption) *KeyBuilder {
	b := &KeyBuilder{
		prefix:      "utility",
		floatDigits: defaultFloatDigits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the cache key for calling the identified utility on subset.
// The subset is a set of data indices: it is copied and sorted before hashing
// so argument order never affects the key. Extra arguments are canonicalized
// in the order given.
//
// Format: <prefix>:<scorer>:<hash>, where hash is the first 16 bytes of
// SHA-256 over the canonical identity and argument bytes, hex encoded.
func (b *KeyBuilder) Key(id Identity, subset []int, extra ...any) (string, error) {
	if id.Scorer == "" {
		return "", fmt.Errorf("%w: identity requires a scorer name", ErrUnstableFingerprint)
	}
	idBytes, err := id.canonical(b.floatDigits)
	if err != nil {
		return "", err
	}

	sorted := make([]int, len(subset))
	copy(sorted, subset)
	sort.Ints(sorted)

	h := sha256.New()
	h.Write(idBytes)
	h.Write([]byte{0})
	subsetBytes, err := canonicalize(sorted, b.floatDigits)
	if err != nil {
		return "", err
	}
	h.Write(subsetBytes)
	for _, arg := range extra {
		h.Write([]byte{0})
		argBytes, err := canonicalize(arg, b.floatDigits)
		if err != nil {
			return "", err
		}
		h.Write(argBytes)
	}

	sum := h.Sum(nil)
	return fmt.Sprintf("%s:%s:%s", b.prefix, id.Scorer, hex.EncodeToString(sum[:16])), nil
}
