// Package hash provides the murmur64a hashing used throughout the bundle
// format to key file paths and extensions.
package hash

import (
	murmurhash "github.com/rryqszq4/go-murmurhash"
)

// Murmur64A hashes data with the MurmurHash2 64-bit (x64) variant and a
// zero seed, matching the hashing used by the resource compiler that built
// the bundle index.
func Murmur64A(data []byte) uint64 {
	return murmurhash.MurmurHash2_x64_64(data, 0)
}

// MurmurString is a convenience wrapper for hashing UTF-8 strings, used for
// glob components and dictionary entries.
func MurmurString(s string) uint64 {
	return Murmur64A([]byte(s))
}
