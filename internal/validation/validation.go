package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/perpsight/perpsight/internal/errs"
	"github.com/perpsight/perpsight/internal/pairs"
)

// Request limits.
const (
	MaxScreenSymbols = 100
	MinCandleLimit   = 1
	MaxCandleLimit   = 1000
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// ValidationError is one failed field check.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every failed check in one request.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors reports whether any check failed.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err converts the collected errors to a categorized validation error, or
// nil when everything passed.
func (e ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return errs.Wrap(errs.KindValidation, "request validation failed", e)
}

// Validator accumulates field checks for one request.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// AddError records a failed check.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Errors returns every recorded failure.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required validates that a string is non-blank.
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// Range validates an integer against inclusive bounds.
func (v *Validator) Range(field string, value, min, max int) {
	if value < min || value > max {
		v.AddError(field, fmt.Sprintf("must be between %d and %d, got %d", min, max, value))
	}
}

// OneOf validates membership in a closed string set.
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")))
}

// UUID validates RFC-4122 format.
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
	}
}

// Symbol validates the canonical symbol shape after normalization.
func (v *Validator) Symbol(field, value string) {
	if !symbolPattern.MatchString(pairs.Normalize(value)) {
		v.AddError(field, fmt.Sprintf("malformed symbol %q", value))
	}
}

// KnownPair validates shape and membership in the tracked universe.
func (v *Validator) KnownPair(field, value string) {
	normalized := pairs.Normalize(value)
	if !symbolPattern.MatchString(normalized) {
		v.AddError(field, fmt.Sprintf("malformed symbol %q", value))
		return
	}
	if !pairs.IsKnown(normalized) {
		v.AddError(field, fmt.Sprintf("unknown pair %q", value))
	}
}

// Timeframe validates against the closed timeframe set.
func (v *Validator) Timeframe(field, value string) {
	if _, err := pairs.ParseTimeframe(value); err != nil {
		v.AddError(field, err.Error())
	}
}

// Rating validates a feedback rating.
func (v *Validator) Rating(field string, value int) {
	if value != 1 && value != -1 {
		v.AddError(field, fmt.Sprintf("must be +1 or -1, got %d", value))
	}
}

// AnalyzeRequest validates the single-pair analysis surface.
func AnalyzeRequest(pair, timeframe string, limit int) error {
	v := NewValidator()
	v.Required("pair", pair)
	if pair != "" {
		v.KnownPair("pair", pair)
	}
	v.Required("timeframe", timeframe)
	if timeframe != "" {
		v.Timeframe("timeframe", timeframe)
	}
	if limit != 0 {
		v.Range("limit", limit, MinCandleLimit, MaxCandleLimit)
	}
	return v.Errors().Err()
}

// ScreenRequest validates the multi-symbol surface. Unknown symbols are NOT
// rejected here; they become per-pair failures downstream.
func ScreenRequest(symbols []string, timeframe string) error {
	v := NewValidator()
	if len(symbols) == 0 {
		v.AddError("symbols", "is required")
	}
	if len(symbols) > MaxScreenSymbols {
		v.AddError("symbols", fmt.Sprintf("too many symbols: %d (max %d)", len(symbols), MaxScreenSymbols))
	}
	for _, s := range symbols {
		v.Symbol("symbols", s)
		if v.HasErrors() {
			break
		}
	}
	v.Required("timeframe", timeframe)
	if timeframe != "" {
		v.Timeframe("timeframe", timeframe)
	}
	return v.Errors().Err()
}

// FeedbackRequest validates a feedback submission.
func FeedbackRequest(refID string, rating int) error {
	v := NewValidator()
	v.Required("ref_id", refID)
	v.Rating("rating", rating)
	return v.Errors().Err()
}

// SanitizeSymbol strips everything but alphanumerics and uppercases.
func SanitizeSymbol(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(symbol)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
