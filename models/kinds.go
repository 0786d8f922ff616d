// Package models defines the data structures shared across the harvester.
package models

// ProviderKind identifies one extraction strategy.
type ProviderKind string

const (
	ProviderHTTP    ProviderKind = "http"
	ProviderBrowser ProviderKind = "browser"
	ProviderAPI     ProviderKind = "api"
)

// SiteType is the analyzer's classification of how a site renders listings.
type SiteType string

const (
	SiteStatic    SiteType = "static"
	SiteSPA       SiteType = "spa"
	SiteAPIDriven SiteType = "api_driven"
	SiteUnknown   SiteType = "unknown"
)

// DefensiveMeasure is a site-side mechanism that impedes automated extraction.
type DefensiveMeasure string

const (
	DefenseCDNChallenge DefensiveMeasure = "cdn_challenge"
	DefenseCaptcha      DefensiveMeasure = "captcha"
	DefenseRateLimit    DefensiveMeasure = "rate_limit"
	DefenseJSRequired   DefensiveMeasure = "js_required"
	DefenseHeavyJS      DefensiveMeasure = "heavy_js"
)

// ErrorKind labels a classified attempt failure. The labels feed logs,
// metrics, and ScrapeResult.AggregatedErrors.
type ErrorKind string

const (
	ErrKindAnalysis  ErrorKind = "analysis_failure"
	ErrKindTimeout   ErrorKind = "provider_timeout"
	ErrKindBlocked   ErrorKind = "provider_blocked"
	ErrKindParse     ErrorKind = "parse_failure"
	ErrKindResource  ErrorKind = "resource_failure"
	ErrKindConnect   ErrorKind = "connection_failure"
	ErrKindNotFound  ErrorKind = "not_found"
	ErrKindExhausted ErrorKind = "exhausted_strategy"
	ErrKindOther     ErrorKind = "other"
)

// OutcomeKind is the terminal state of one provider invocation.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeEmpty   OutcomeKind = "empty"
	OutcomeFailed  OutcomeKind = "failed"
)
