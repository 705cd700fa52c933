package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint returns the deterministic dedup key for one invocation. Equal
// (owner, model, input) triples always collide; the owner and resolved model
// partition the space so identical prompts never leak across users or model
// changes.
func Fingerprint(ownerID, model, input string) string {
	h := sha256.Sum256([]byte(input))
	return fmt.Sprintf("agent:%s:%s:%s", ownerID, model, hex.EncodeToString(h[:]))
}
