// Package srand provides a math/rand Source backed by crypto/rand.
//
// Use it wherever an *rand.Rand is injected but the values must not be
// predictable, for example when generating session identifiers:
//
//	rng := rand.New(srand.Source)
package srand

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
)

// Source is a math/rand Source64 drawing from crypto/rand.
//
// It is safe for concurrent use. Seed is a no-op.
var Source mathrand.Source64 = secureSource{}

type secureSource struct{}

func (secureSource) Seed(seed int64) {}

func (s secureSource) Int63() int64 {
	return int64(s.Uint64() & ((1 << 63) - 1))
}

func (secureSource) Uint64() uint64 {
	var buffer [8]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		panic("crypto/rand is unavailable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buffer[:])
}
