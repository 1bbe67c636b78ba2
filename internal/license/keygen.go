package license

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
)

// KeyAlphabet is the symbol set license keys are drawn from.
const KeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	keyGroups    = 4
	keyGroupSize = 4
	// KeyLength includes the three dashes.
	KeyLength = keyGroups*keyGroupSize + keyGroups - 1
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// KeyGenerator produces candidate license keys. Uniqueness is enforced by
// the store, not the generator.
type KeyGenerator interface {
	Generate() string
}

// RandomKeyGenerator draws every symbol uniformly from KeyAlphabet.
type RandomKeyGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewKeyGenerator returns a generator over src. A nil src uses the
// process-wide math/rand/v2 generator.
func NewKeyGenerator(src rand.Source) *RandomKeyGenerator {
	g := &RandomKeyGenerator{}
	if src != nil {
		g.rng = rand.New(src)
	}
	return g
}

// Generate returns a key formatted XXXX-XXXX-XXXX-XXXX.
func (g *RandomKeyGenerator) Generate() string {
	var b strings.Builder
	b.Grow(KeyLength)

	// *rand.Rand is not safe for concurrent use.
	if g.rng != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
	}
	for i := 0; i < keyGroups*keyGroupSize; i++ {
		if i > 0 && i%keyGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(KeyAlphabet[g.intN(len(KeyAlphabet))])
	}
	return b.String()
}

func (g *RandomKeyGenerator) intN(n int) int {
	if g.rng != nil {
		return g.rng.IntN(n)
	}
	return rand.IntN(n)
}

// ValidKeyFormat reports whether key has the XXXX-XXXX-XXXX-XXXX shape.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// NormalizeKey trims and upper-cases a client-supplied key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// MaskKey hides the middle groups of a key for logs and span attributes.
func MaskKey(key string) string {
	if len(key) != KeyLength {
		if len(key) <= 4 {
			return "****"
		}
		return key[:4] + "-****"
	}
	return key[:4] + "-****-****-" + key[len(key)-4:]
}
