package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainDispatch and DomainError separate the two record kinds' hash
// spaces, adapted from the teacher's domain-separated content-addressing
// scheme (internal/ir/hash.go's DomainInvocation/DomainCompletion), renamed
// from "invocation/completion" to this package's own record kinds and
// versioned independently of the teacher's "nysm" domain prefix.
const (
	DomainDispatch = "corestore/dispatch/v1"
	DomainError    = "corestore/error/v1"
)

// contentHash computes SHA256(domain + 0x00 + canonical(v)), the same
// null-byte domain/data separation internal/ir/hash.go uses. Canonicalization
// here is encoding/json's already-deterministic sorted-map-key output (Go's
// json.Marshal sorts map[string]T keys), followed by an NFC normalization
// pass over the resulting bytes — the same Unicode-normalization step
// internal/ir/canonical.go performs on strings before hashing, applied here
// to the whole encoded document rather than field-by-field.
func contentHash(domain string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("journal: marshal for hashing: %w", err)
	}
	normalized := norm.NFC.Bytes(raw)

	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(normalized)
	return hex.EncodeToString(h.Sum(nil)), nil
}
