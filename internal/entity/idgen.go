package entity

import "crypto/rand"

// base62Alphabet is the alphabet spec.md §3 calls for ("random unique id, 21-char
// base62"); a Nano-ID-style generator over crypto/rand rather than
// google/uuid, since a UUID is the wrong shape (36 chars, hyphenated,
// base16) for what the spec asks for. Grounded on the teacher's habit of
// hand-rolling small internal helpers instead of importing a library for an
// 18-line function.
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const idLength = 21

// NewID returns a fresh 21-char base62 entity id.
func NewID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS RNG is unavailable, a
		// condition this engine cannot usefully recover from.
		panic("entity: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, idLength)
	for i, b := range buf {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out)
}
