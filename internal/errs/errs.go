// Package errs defines the error taxonomy named in spec §7 as sentinel
// values, checked with errors.Is, rather than a custom error-code type —
// the same plain-wrapped-error style the rest of the codebase has always used.
package errs

import "errors"

var (
	ErrAdapterUnavailable    = errors.New("adapter_unavailable")
	ErrAdapterTimeout        = errors.New("adapter_timeout")
	ErrToolMissing           = errors.New("tool_missing")
	ErrLLMMalformed          = errors.New("llm_malformed")
	ErrLLMRateLimited        = errors.New("llm_rate_limited")
	ErrInvestigationTimeout  = errors.New("investigation_timeout")
	ErrInvestigationCancelled = errors.New("investigation_cancelled")
	ErrSafeMode              = errors.New("safe_mode")
	ErrFatalConfig           = errors.New("fatal_config")
	ErrNotFound              = errors.New("not_found")
	ErrSealed                = errors.New("report_already_sealed")
)
