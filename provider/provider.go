// Package provider implements the interchangeable extraction strategies:
// plain HTTP fetch+parse, headless-browser render+parse, and hidden-API
// discovery. Every provider returns a classified ExtractionAttempt on
// every path; raw errors never escape to the orchestration loop.
package provider

import (
	"context"
	"time"

	"github.com/pricewatch/harvester/models"
)

// Provider is the uniform extraction contract.
type Provider interface {
	Kind() models.ProviderKind
	Attempt(ctx context.Context, target models.Target, strategy models.Strategy) models.ExtractionAttempt
}

// begin stamps a new attempt for a provider.
func begin(kind models.ProviderKind) models.ExtractionAttempt {
	return models.ExtractionAttempt{
		Provider:  kind,
		StartedAt: time.Now(),
	}
}

// succeed finalizes an attempt with extracted items. Zero items is an
// Empty outcome, not a success.
func succeed(attempt models.ExtractionAttempt, items []models.RawItem) models.ExtractionAttempt {
	attempt.EndedAt = time.Now()
	attempt.Items = items
	attempt.RawItemCount = len(items)
	if len(items) > 0 {
		attempt.Outcome = models.OutcomeSuccess
	} else {
		attempt.Outcome = models.OutcomeEmpty
		attempt.ErrorKind = models.ErrKindParse
	}
	return attempt
}

// fail finalizes an attempt with a classified error.
func fail(attempt models.ExtractionAttempt, err error, statusCode int) models.ExtractionAttempt {
	attempt.EndedAt = time.Now()
	attempt.Outcome = models.OutcomeFailed
	attempt.Err = err
	attempt.ErrorKind = Classify(err, statusCode)
	return attempt
}
