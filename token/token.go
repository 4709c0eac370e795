// Package token generates the two-word human-communicable session
// token (C2) that binds the handshake (spec §4.2).
package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// vocabulary is a fixed set of short, visually distinct, lowercase
// words. It holds 272 words, so two independent draws carry
// 2*log2(272) ≈ 16.2 bits of entropy, which is below 34 bits.
var vocabulary = buildVocabulary()

// Generate produces a token of the form "word1-word2" by drawing two
// words independently and uniformly from the vocabulary using the
// platform CSPRNG. Equal words are a valid outcome: the policy is
// uniform independent selection, not a no-repeat guarantee.
func Generate() (string, error) {
	first, err := pick()
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	second, err := pick()
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	return first + "-" + second, nil
}

func pick() (string, error) {
	n := big.NewInt(int64(len(vocabulary)))
	idx, err := rand.Int(rand.Reader, n)
	if err != nil {
		return "", err
	}
	return vocabulary[idx.Int64()], nil
}

// Vocabulary returns a copy of the word list, mainly for tests that
// need to assert on entropy or shape.
func Vocabulary() []string {
	out := make([]string, len(vocabulary))
	copy(out, vocabulary)
	return out
}
