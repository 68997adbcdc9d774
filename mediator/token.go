package mediator

import (
	"crypto/rand"
	"sync"
)

// tokenSize is the length, in bytes, of a minted token. Opaque and
// unguessable is all the spec requires (§3); crypto/rand gives us that
// directly without reaching for an identifier library (see SPEC_FULL.md's
// standard-library-only justification).
const tokenSize = 32

// tokenKey identifies the (username, connection-name) pair a token is
// bound to (spec §3, §4.6).
type tokenKey struct {
	username string
	connName string
}

// TokenGenerator mints single-use tokens bound to exactly one
// (username, connection-name) pair and consumes them on successful use.
type TokenGenerator struct {
	mu     sync.Mutex
	tokens map[tokenKey]string // key -> token bytes, as a string for map use
}

// NewTokenGenerator returns an empty TokenGenerator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{tokens: make(map[tokenKey]string)}
}

// Mint generates a fresh token for (username, connName), overwriting any
// token previously minted (and not yet consumed) for that same pair.
func (g *TokenGenerator) Mint(username, connName string) ([]byte, error) {
	buf := make([]byte, tokenSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.tokens[tokenKey{username, connName}] = string(buf)
	g.mu.Unlock()

	return buf, nil
}

// Consume verifies that token was minted for (username, connName) and,
// if so, releases it (one-shot) and returns nil. Per invariant 4, a
// token is accepted at most once and only under the name it was minted
// for. Consume fails with ErrTokenNotFound if no token is pending for
// this (username, connName) pair (including when the token was minted
// for a different pair), and with ErrTokenMismatch if a token is pending
// for this pair but presented differs from it.
func (g *TokenGenerator) Consume(username, connName string, presented []byte) error {
	key := tokenKey{username, connName}

	g.mu.Lock()
	defer g.mu.Unlock()

	expected, ok := g.tokens[key]
	if !ok {
		return ErrTokenNotFound
	}
	if expected != string(presented) {
		return ErrTokenMismatch
	}
	delete(g.tokens, key)
	return nil
}

// Release discards a pending token for (username, connName) without
// requiring it to be presented, e.g. when the connector that requested
// it is torn down before the sibling connects.
func (g *TokenGenerator) Release(username, connName string) {
	g.mu.Lock()
	delete(g.tokens, tokenKey{username, connName})
	g.mu.Unlock()
}
