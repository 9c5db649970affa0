package lobby

import (
	"crypto/rand"
	"math/big"
)

// DefaultAlphabet deliberately sticks to uppercase letters and digits: codes
// are read aloud and typed on phone keyboards.
const (
	DefaultAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultCodeLength = 6
)

// CodeGenerator produces short human-shareable lobby codes. Codes are not
// secrets; uniqueness against live lobbies is the caller's job (the service
// retries on collision).
type CodeGenerator interface {
	Generate() string
}

type codeGenerator struct {
	alphabet string
	length   int
}

// NewCodeGenerator returns a generator over the given alphabet and length.
// Zero values fall back to the defaults. Tests shrink the alphabet to force
// collisions.
func NewCodeGenerator(alphabet string, length int) CodeGenerator {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &codeGenerator{alphabet: alphabet, length: length}
}

func (g *codeGenerator) Generate() string {
	max := big.NewInt(int64(len(g.alphabet)))
	b := make([]byte, g.length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken;
			// nothing sensible to do but give up loudly.
			panic(err)
		}
		b[i] = g.alphabet[n.Int64()]
	}
	return string(b)
}
