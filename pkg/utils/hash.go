package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashParts joins parts with "_" and hashes the result, so ids built from the
// same logical key are stable across runs.
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "_"))
}

// ContentID returns the content address used for persisted payloads.
func ContentID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256-" + hex.EncodeToString(sum[:])
}
