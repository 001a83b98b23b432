package llmgateway

import "fmt"

// ErrorKind classifies why a Gateway call failed, so retry policy can be
// chosen by failure class rather than by error string.
type ErrorKind string

const (
	// KindRateLimit is a provider-side rate limit (retried by the client layer).
	KindRateLimit ErrorKind = "rate_limit"
	// KindTransient is a network/5xx failure (retried by the client layer).
	KindTransient ErrorKind = "transient"
	// KindPermanent is an auth/400-class failure (never retried).
	KindPermanent ErrorKind = "permanent"
	// KindParse is malformed JSON / schema-violation (retried by the stage layer).
	KindParse ErrorKind = "parse"
	// KindSafetyBlock is a provider safety-filter refusal (never retried).
	KindSafetyBlock ErrorKind = "safety_block"
	// KindQuotaExhausted is a daily-quota exhaustion on one credential (rotates keys).
	KindQuotaExhausted ErrorKind = "quota_exhausted"
)

// Error is the Gateway's typed error, always classified into one ErrorKind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the client layer should retry this error.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransient
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewParseError lets stages classify their own post-parse schema
// validation failures (e.g. a required field missing after successful
// JSON decode) as KindParse, so WithStageRetry retries them the same way
// it retries a CompleteJSON decode failure.
func NewParseError(what string, err error) error {
	return newError(KindParse, what, err)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gErr *Error
	if ok := asError(err, &gErr); ok {
		return gErr.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
