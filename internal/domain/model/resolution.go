package model

import "io"

type StrategyName string

const (
	StrategyTokenSession    StrategyName = "token_session"
	StrategySignedHandshake StrategyName = "signed_handshake"
	StrategyDirectScrape    StrategyName = "direct_scrape"
)

// ResolutionResult is transient and never persisted.
//
// A strategy either points at MediaURL (fetched by the orchestrator with Headers)
// or, when the media can only be read inside the strategy's own session, hands
// over an open Body together with its ContentType.
type ResolutionResult struct {
	MediaURL      string
	Strategy      StrategyName
	SizeHintBytes *int64
	Title         string
	Quality       string
	Headers       map[string]string
	Body          io.ReadCloser
	ContentType   string
}

// Outcome of one access-gate request.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeDenied    Outcome = "denied"
	OutcomeFailed    Outcome = "failed"
)

// GateResult carries the local file (Delivered) and the allowance snapshot:
// post-increment for Delivered, pre-attempt otherwise.
type GateResult struct {
	Outcome   Outcome
	FilePath  string
	Allowance Allowance
	Err       error
}
