// Package idgen hands out short random identifiers: request IDs for the
// API and keys for links the CLI creates without one.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	alphabet   = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	randomSize = 10

	requestPrefix = "req-"
	linkPrefix    = "lnk-"

	// maxCallerID bounds request IDs accepted from clients.
	maxCallerID = 128
)

// New returns prefix followed by randomSize characters from alphabet.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, randomSize)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + id, nil
}

// RequestID returns a fresh request ID. It never fails; a broken random
// source yields a fixed placeholder so logging carries on.
func RequestID() string {
	id, err := New(requestPrefix)
	if err != nil {
		return requestPrefix + "unknown"
	}
	return id
}

// LinkKey returns a key for a link created without one.
func LinkKey() (string, error) { return New(linkPrefix) }

// AcceptRequestID reports whether a caller-supplied request ID is safe to
// echo and log: non-empty, bounded, printable ASCII without spaces.
func AcceptRequestID(id string) bool {
	if id == "" || len(id) > maxCallerID {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
