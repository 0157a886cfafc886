package hasher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/satriahrh/gemini-chat/domain"
)

// New returns a domain.Hasher backed by SHA-256.
func New() domain.Hasher { return sha256Hasher{} }

type sha256Hasher struct{}

func (h sha256Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes a transcript so that two snapshots with the same turns
// share a value. Role and content are length-prefixed to keep boundaries
// unambiguous.
func Fingerprint(h domain.Hasher, turns []domain.Turn) string {
	var buf []byte
	for _, t := range turns {
		buf = appendField(buf, string(t.Role))
		buf = appendField(buf, t.Content)
	}
	return h.Hash(buf)
}

func appendField(buf []byte, s string) []byte {
	n := len(s)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, s...)
}
