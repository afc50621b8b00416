package scraper

import (
	"context"
	"errors"
	"fmt"

	"pricetrail/extract"
	"pricetrail/interact"
	"pricetrail/resolver"
	"pricetrail/session"
)

// ErrPersistence marks a failed ledger or registry write.
var ErrPersistence = errors.New("persistence failure")

// errNotSubmitted is returned when every way of submitting the search
// failed.
var errNotSubmitted = errors.New("search could not be submitted")

type FailureKind string

const (
	FailureResolution  FailureKind = "resolution"
	FailureInteraction FailureKind = "interaction"
	FailureExtraction  FailureKind = "extraction"
	FailureDriver      FailureKind = "driver"
	FailurePersistence FailureKind = "persistence"
)

// Failure is the classified cause of a failed attempt. Short is safe to
// show to API consumers; Error carries the full chain for logs.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Short() string { return f.Message }

// classify maps an attempt error onto the failure taxonomy. what names the
// step that failed and is used in the short message.
func classify(err error, what string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	switch {
	case errors.Is(err, ErrPersistence):
		return &Failure{Kind: FailurePersistence, Message: "could not record attempt", Err: err}
	case errors.Is(err, session.ErrChallenge):
		return &Failure{Kind: FailureDriver, Message: "blocked by anti-bot challenge", Err: err}
	case errors.Is(err, session.ErrDriver):
		return &Failure{Kind: FailureDriver, Message: "page failed to load", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: FailureDriver, Message: "attempt interrupted", Err: err}
	case errors.Is(err, resolver.ErrNotFound):
		return &Failure{Kind: FailureResolution, Message: what + " not found", Err: err}
	case errors.Is(err, errNotSubmitted), errors.Is(err, interact.ErrLadderExhausted):
		return &Failure{Kind: FailureInteraction, Message: "could not " + what, Err: err}
	case errors.Is(err, extract.ErrParse):
		return &Failure{Kind: FailureExtraction, Message: "price could not be parsed", Err: err}
	case errors.Is(err, extract.ErrNoCandidate):
		return &Failure{Kind: FailureExtraction, Message: "no price found", Err: err}
	}
	return &Failure{Kind: FailureDriver, Message: "unexpected error", Err: err}
}
