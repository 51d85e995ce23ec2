package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HashPrefix marks the algorithm in stored hashes so a future algorithm
// change stays distinguishable on chain.
const HashPrefix = "sha256:"

// CanonicalBytes serializes a document deterministically. encoding/json
// emits struct fields in declaration order and sorts map keys, which is the
// whole canonicalization contract here.
func CanonicalBytes(doc Document) ([]byte, error) {
	doc.CreatedAt = doc.CreatedAt.UTC()
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}
	return b, nil
}

// HashDocument computes the content hash of a document's canonical form.
func HashDocument(doc Document) (string, []byte, error) {
	b, err := CanonicalBytes(doc)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:]), b, nil
}

// HashBatchManifest combines many logical records into one composite hash.
// The manifest is newline-joined "caseRef:hash" lines preceded by a version
// tag, so any reordering or substitution of a member changes the result.
func HashBatchManifest(hashes []BatchMember) string {
	var b strings.Builder
	b.WriteString("aegis-batch-v1\n")
	for _, m := range hashes {
		b.WriteString(m.CaseRef)
		b.WriteString(":")
		b.WriteString(m.ContentHash)
		b.WriteString("\n")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return HashPrefix + hex.EncodeToString(sum[:])
}

// BatchMember identifies one record inside a composite filing.
type BatchMember struct {
	CaseRef     string `json:"case_ref"`
	ContentHash string `json:"content_hash"`
}
