// Package rng implements the kernel's bootstrap CSPRNG: a simple
// hash-DRBG seeded from the entropy driver's output. There is no
// ecosystem DRBG in the retrieved example repos to ground this on, and
// the spec only requires "mix collected entropy into a pseudo-random
// generator" without naming a construction, so this uses crypto/sha256
// directly rather than reaching for a third-party package with no
// precedent in the corpus.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
)

// CSPRNG is a counter-mode hash DRBG: Mix replaces the state with
// SHA-256(state||entropy), and Read squeezes output blocks as
// SHA-256(state||counter), advancing only the counter. Not safe for
// concurrent use; the kernel only ever touches it from its single
// event-loop goroutine.
type CSPRNG struct {
	state   [sha256.Size]byte
	counter uint64
	seeded  bool
}

// Mix folds entropy bytes into the generator's state. Safe to call
// repeatedly as more entropy-device completions arrive during
// bootstrap; each call strictly increases the state's dependence on the
// input, never replaces it outright.
func (c *CSPRNG) Mix(entropy []byte) {
	h := sha256.New()
	h.Write(c.state[:])
	h.Write(entropy)
	copy(c.state[:], h.Sum(nil))
	c.seeded = true
}

// Seeded reports whether Mix has been called at least once.
func (c *CSPRNG) Seeded() bool { return c.seeded }

// Read fills buf with output derived from the current state, without
// mutating the state itself (repeated Read calls without an
// intervening Mix advance only the internal counter, not the seed).
func (c *CSPRNG) Read(buf []byte) {
	for len(buf) > 0 {
		h := sha256.New()
		h.Write(c.state[:])
		var ctr [8]byte
		binary.LittleEndian.PutUint64(ctr[:], c.counter)
		h.Write(ctr[:])
		c.counter++
		block := h.Sum(nil)
		n := copy(buf, block)
		buf = buf[n:]
	}
}
