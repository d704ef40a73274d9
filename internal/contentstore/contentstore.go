// Package contentstore holds raw document bytes. Keys are write-once: a put
// to an existing key fails with sentinel.ErrConflict and never overwrites.
package contentstore

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
)

// NewKey returns a fresh storage key for an upload. The random suffix keeps
// retries of the same upload from colliding.
func NewKey(uploadID id.FileUploadID) string {
	return fmt.Sprintf("uploads/%s/%s", uploadID, uuid.NewString())
}

// Checksum is the hex BLAKE2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data hashes to want.
func VerifyChecksum(data []byte, want string) bool {
	got := Checksum(data)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
