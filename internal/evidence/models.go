// Package evidence anchors proof that a document existed with specific
// content at a specific time on an external append-only ledger, and
// verifies those proofs later. Nothing in this package updates or deletes:
// proofs are immutable once anchored.
package evidence

import "time"

// DocumentType classifies what kind of record is being anchored.
type DocumentType string

const (
	DocumentTypeOutbound         DocumentType = "outbound_message"
	DocumentTypeInboundResponse  DocumentType = "inbound_response"
	DocumentTypeCollectiveFiling DocumentType = "collective_filing"
)

// Document is the logical record to anchor. Field order here is the
// canonical serialization order; do not reorder without a hash-version bump.
type Document struct {
	Type           DocumentType `json:"type"`
	CaseRef        string       `json:"case_ref"`
	Content        string       `json:"content"`
	LegalCitations []string     `json:"legal_citations,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Proof is the immutable record of a successful anchor.
type Proof struct {
	ContentHash       string
	LedgerTxID        string
	LedgerBlock       int64
	Confirmations     int
	AnchoredAt        time.Time
	SourceDocumentRef string
	VerificationURL   string
}

// VerifyResult reports a verification outcome. Valid=false is an expected
// result for tampered input, not an error.
type VerifyResult struct {
	Valid         bool      `json:"valid"`
	OnChainHash   string    `json:"on_chain_hash"`
	ComputedHash  string    `json:"computed_hash"`
	Confirmations int       `json:"confirmations"`
	Timestamp     time.Time `json:"timestamp"`
}
