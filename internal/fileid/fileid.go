// Package fileid provides the identifiers the index uses for vault files:
// a normalized vault-relative key and a content fingerprint.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"
	"strings"
)

const prefix = "sha256:"

// Fingerprint returns a stable fingerprint of a file's content.
// Same bytes always yield the same fingerprint.
func Fingerprint(content []byte) string {
	hash := sha256.Sum256(content)
	return prefix + hex.EncodeToString(hash[:])
}

// Key returns the vault-relative, slash-separated key for absPath under root.
// ok is false when absPath lies outside root.
func Key(root, absPath string) (key string, ok bool) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absPath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path.Clean(filepath.ToSlash(rel)), true
}

// Under reports whether key is inside the directory key dir.
func Under(key, dir string) bool {
	return dir == "" || strings.HasPrefix(key, strings.TrimSuffix(dir, "/")+"/")
}
