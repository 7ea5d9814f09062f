// Package presentation implements the Presentation Layer (spec §4.9):
// a humanized error catalog, long-message pagination, progress-update
// throttling, and preference-aware (decorated vs plain) rendering.
package presentation

import "fmt"

// ErrorCode identifies one catalog entry. Internal error values never
// surface verbatim to a chat — every user-visible failure resolves to one
// of these.
type ErrorCode string

const (
	ErrValidation        ErrorCode = "validation"
	ErrCapabilityTimeout ErrorCode = "capability_timeout"
	ErrCapabilityFailure ErrorCode = "capability_failure"
	ErrCorruption        ErrorCode = "corruption"
	ErrInterrupted       ErrorCode = "interrupted"
	ErrExhaustion        ErrorCode = "exhaustion"
	ErrInternal          ErrorCode = "internal"
)

// Severity classifies how prominently an error should be rendered.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// CatalogEntry is the humanized form of one error code (spec §4.9).
// RecoveryActions are router callback tokens (e.g. "retry:transcribe"),
// not free text.
type CatalogEntry struct {
	Code            ErrorCode
	Message         string
	Suggestions     []string
	RecoveryActions []string
	Severity        Severity
}

var catalog = map[ErrorCode]CatalogEntry{
	ErrValidation: {
		Code:        ErrValidation,
		Message:     "That doesn't look right.",
		Suggestions: []string{"Check the command syntax and try again."},
		Severity:    SeverityWarning,
	},
	ErrCapabilityTimeout: {
		Code:            ErrCapabilityTimeout,
		Message:         "That took too long and was cancelled.",
		Suggestions:     []string{"The service may be busy — retrying usually works."},
		RecoveryActions: []string{"retry:last"},
		Severity:        SeverityWarning,
	},
	ErrCapabilityFailure: {
		Code:            ErrCapabilityFailure,
		Message:         "A background service couldn't complete this request.",
		Suggestions:     []string{"You can retry, or continue and come back to this later."},
		RecoveryActions: []string{"retry:last"},
		Severity:        SeverityError,
	},
	ErrCorruption: {
		Code:        ErrCorruption,
		Message:     "Some stored data for this session looks damaged.",
		Suggestions: []string{"Recovery has been logged; unaffected parts of the session remain usable."},
		Severity:    SeverityError,
	},
	ErrInterrupted: {
		Code:            ErrInterrupted,
		Message:         "This session was interrupted before it finished.",
		Suggestions:     []string{"You can resume it or start fresh."},
		RecoveryActions: []string{"recover:resume", "recover:discard"},
		Severity:        SeverityWarning,
	},
	ErrExhaustion: {
		Code:        ErrExhaustion,
		Message:     "This session has reached a capacity limit.",
		Suggestions: []string{"Finalize this session to start a new one."},
		Severity:    SeverityWarning,
	},
	ErrInternal: {
		Code:        ErrInternal,
		Message:     "Something went wrong on this end.",
		Suggestions: []string{"No data was lost. Please try again."},
		Severity:    SeverityError,
	},
}

// Humanize resolves code to its catalog entry. An unrecognized code falls
// back to ErrInternal rather than panicking, since this sits on the last
// hop before a user-visible message.
func Humanize(code ErrorCode) CatalogEntry {
	if entry, ok := catalog[code]; ok {
		return entry
	}
	return catalog[ErrInternal]
}

// Render formats entry as chat text. Decorative glyphs are included only
// when decorated is true (UIPreferences.SimplifiedUI == false), per spec
// §4.9's two-register rule; both registers stay semantically complete.
func Render(entry CatalogEntry, decorated bool) string {
	prefix := ""
	if decorated {
		switch entry.Severity {
		case SeverityError:
			prefix = "⚠️ "
		case SeverityWarning:
			prefix = "• "
		}
	}
	out := fmt.Sprintf("%s%s", prefix, entry.Message)
	for _, s := range entry.Suggestions {
		if decorated {
			out += fmt.Sprintf("\n  ↳ %s", s)
		} else {
			out += fmt.Sprintf("\n%s", s)
		}
	}
	return out
}
