// Package dedupe drops byte-identical items submitted together in one batch.
package dedupe

import (
	"crypto/sha256"
	"fmt"
)

// Decision is the verdict for one input item, in input order.
type Decision struct {
	Index       int
	Fingerprint string
	Admit       bool
}

// Fingerprint returns the hex SHA-256 of data.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// Select admits the first occurrence of every distinct fingerprint and
// rejects later repeats. The scope is the given slice only.
func Select(items [][]byte) []Decision {
	seen := make(map[string]struct{}, len(items))
	decisions := make([]Decision, len(items))
	for i, data := range items {
		fp := Fingerprint(data)
		_, dup := seen[fp]
		if !dup {
			seen[fp] = struct{}{}
		}
		decisions[i] = Decision{Index: i, Fingerprint: fp, Admit: !dup}
	}
	return decisions
}
