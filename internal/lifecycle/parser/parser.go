// Package parser classifies inbound response text. The heuristic here is
// deliberately simple pattern matching; the Parser interface exists so a
// real model can replace it without touching the state machine.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Sentiment buckets an inbound response's tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentHostile  Sentiment = "hostile"
)

// Result is the classification of one inbound body.
type Result struct {
	AdmissionCount      int       `json:"admission_count"`
	ViolationCount      int       `json:"violation_count"`
	RefundOfferCount    int       `json:"refund_offer_count"`
	DocumentRefCount    int       `json:"document_ref_count"`
	LegalThreatCount    int       `json:"legal_threat_count"`
	Sentiment           Sentiment `json:"sentiment"`
	RequiresHumanReview bool      `json:"requires_human_review"`
	// AdmissionText is the surrounding context of the first admission
	// phrase found, kept for the learning record.
	AdmissionText string `json:"admission_text,omitempty"`
	// RefundAmount is the largest dollar amount mentioned near a refund
	// offer, zero when none parses.
	RefundAmount float64 `json:"refund_amount,omitempty"`
}

// Parser classifies a raw inbound message body.
type Parser interface {
	Parse(body string) Result
}

// Heuristic is the default Parser: case-insensitive phrase matching over
// five categories plus a weighted keyword sentiment tally.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

var admissionPhrases = []string{
	"we acknowledge",
	"we confirm",
	"error was made",
	"mistake occurred",
	"will refund",
	"will adjust",
	"violation occurred",
	"fee was incorrect",
	"charge was improper",
	"we apologize",
}

var violationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(retain|store|keep)\b.*\d+\s*(years?|months?)`),
	regexp.MustCompile(`(?i)(without|no)\s*(consent|permission|authorization)`),
	regexp.MustCompile(`(?i)(share|transfer|disclose)\b.*third[\s-]party`),
	regexp.MustCompile(`(?i)unable\s+to\s+(locate|provide)\s+.*(records?|agreement|contract)`),
}

var refundPhrases = []string{
	"refund",
	"reimburse",
	"credit your account",
	"waive the fee",
	"adjustment of",
}

var documentRefPhrases = []string{
	"enclosed",
	"attached",
	"see the attached",
	"copy of the agreement",
	"supporting documentation",
	"statement enclosed",
}

var threatPhrases = []string{
	"legal action",
	"our attorneys",
	"litigation",
	"court proceedings",
	"cease and desist",
	"report to credit bureau",
}

var amountPattern = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

var positiveKeywords = []string{
	"happy", "pleased", "resolve", "apologize", "agree", "accept", "assist",
}

var negativeKeywords = []string{
	"dispute", "deny", "refuse", "reject", "demand", "owe", "delinquent",
	"default", "penalty", "escalate", "final notice",
}

// hostileMargin: negative mentions exceeding positive by more than this
// buckets the message as hostile.
const hostileMargin = 3

// reviewViolationThreshold: more findings than this forces human review.
const reviewViolationThreshold = 2

func countPhrases(body string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		n += strings.Count(body, p)
	}
	return n
}

// Parse classifies body. It is deterministic: the same body always yields
// the same Result.
func (h *Heuristic) Parse(body string) Result {
	lower := strings.ToLower(body)

	result := Result{
		AdmissionCount:   countPhrases(lower, admissionPhrases),
		RefundOfferCount: countPhrases(lower, refundPhrases),
		DocumentRefCount: countPhrases(lower, documentRefPhrases),
		LegalThreatCount: countPhrases(lower, threatPhrases),
	}

	for _, re := range violationPatterns {
		result.ViolationCount += len(re.FindAllStringIndex(lower, -1))
	}

	if result.AdmissionCount > 0 {
		result.AdmissionText = admissionContext(lower)
	}
	if result.RefundOfferCount > 0 {
		result.RefundAmount = largestAmount(lower)
	}

	positive := countPhrases(lower, positiveKeywords)
	negative := countPhrases(lower, negativeKeywords)
	switch {
	case negative-positive > hostileMargin:
		result.Sentiment = SentimentHostile
	case negative > positive:
		result.Sentiment = SentimentNegative
	case positive > negative:
		result.Sentiment = SentimentPositive
	default:
		result.Sentiment = SentimentNeutral
	}

	result.RequiresHumanReview = result.ViolationCount > reviewViolationThreshold ||
		result.Sentiment == SentimentHostile

	return result
}

// admissionContext returns the text surrounding the first admission phrase,
// trimmed to a window wide enough for a human to judge it.
func admissionContext(lower string) string {
	for _, p := range admissionPhrases {
		idx := strings.Index(lower, p)
		if idx < 0 {
			continue
		}
		start := max(0, idx-100)
		end := min(len(lower), idx+200)
		return strings.TrimSpace(lower[start:end])
	}
	return ""
}

// largestAmount extracts the largest dollar figure in the body. A refund
// letter often restates smaller line items, so the largest is the offer.
func largestAmount(lower string) float64 {
	var best float64
	for _, m := range amountPattern.FindAllStringSubmatch(lower, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	return best
}

// Outcome reports whether this response counts as a success for learning:
// at least one admission found and no legal-threat escalation.
func (r Result) Outcome() bool {
	return r.AdmissionCount > 0 && r.LegalThreatCount == 0
}
