package testutil

import (
	"crypto/sha1"
	"encoding/hex"
)

// SHA1Hex returns the SHA-1 checksum of data as a lowercase hex string.
// Matches the digest format used in object ids.
func SHA1Hex(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

// ObjectID returns the object id expected for a file named base holding content.
func ObjectID(base string, content []byte) string {
	return "data/" + SHA1Hex([]byte(base)) + "/" + SHA1Hex(content)
}
