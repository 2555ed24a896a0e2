package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Kind classifies a storage failure. The kind decides whether an operation is
// retried (see RetryPolicy) and how the API layer reports it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers missing or invalid static configuration:
	// unknown provider names, absent credentials, malformed endpoints.
	// Never retried; must surface before any network call.
	KindConfiguration
	// KindAuthentication means the provider rejected the credentials.
	// Retrying the same credential cannot succeed.
	KindAuthentication
	// KindValidation means caller input violated a constraint (key too long,
	// payload too large, disallowed extension).
	KindValidation
	// KindNotFound means the referenced object does not exist.
	KindNotFound
	// KindConnection is transient network or service unavailability.
	KindConnection
	// KindTimeout is an exceeded deadline on a provider call.
	KindTimeout
	// KindUpload and KindDelete are generic operation failures that were not
	// classified more precisely.
	KindUpload
	KindDelete
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindConfiguration:  "configuration",
	KindAuthentication: "authentication",
	KindValidation:     "validation",
	KindNotFound:       "not_found",
	KindConnection:     "connection",
	KindTimeout:        "timeout",
	KindUpload:         "upload",
	KindDelete:         "delete",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the structured failure returned by every engine operation. Message
// and the wrapped error are redacted when formatted so credentials never leak
// into logs or API responses.
type Error struct {
	Kind     Kind
	Op       string
	Provider string
	Key      string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("storage: ")
	b.WriteString(e.Op)
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return Redact(b.String())
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is against sentinel *Error values by kind.
func (e *Error) Is(target error) bool {
	var se *Error
	if errors.As(target, &se) {
		return se.Kind == e.Kind
	}
	return false
}

func newError(kind Kind, op, provider, key, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Provider: provider, Key: key, Message: message, Err: err}
}

func configError(provider, format string, args ...any) *Error {
	return newError(KindConfiguration, "configure", provider, "", fmt.Sprintf(format, args...), nil)
}

func validationError(op, key, format string, args ...any) *Error {
	return newError(KindValidation, op, "", key, fmt.Sprintf(format, args...), nil)
}

func notFoundError(op, provider, key string, err error) *Error {
	return newError(KindNotFound, op, provider, key, "object not found", err)
}

// KindOf extracts the taxonomy kind from err, walking the wrap chain.
// Plain errors without a *Error in the chain report KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err represents a missing object.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsRetriable reports whether the failure is transient and worth a full
// backoff schedule. Generic upload/delete failures get a single conservative
// retry instead; everything else surfaces immediately.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindTimeout:
		return true
	}
	return false
}

// kindFromStatus maps an HTTP status from a provider response onto the
// taxonomy. Shared by the adapters; SDK-specific error shapes are unwrapped
// in each adapter file before landing here.
func kindFromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthentication
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 429 || status >= 500:
		return KindConnection
	default:
		return KindUnknown
	}
}

// transportKind classifies pure transport failures (no provider response).
func transportKind(err error) (Kind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout, true
		}
		return KindConnection, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection, true
	}
	return KindUnknown, false
}

var secretPatterns = []*regexp.Regexp{
	// key=value / key: value pairs whose name smells like a credential.
	regexp.MustCompile(`(?i)((?:secret|password|token|credential)[\w-]*\s*[=:]\s*)[^\s,;&"']+`),
	// Signed-URL query parameters carrying signatures or key material.
	regexp.MustCompile(`([?&](?:X-Amz-Signature|X-Amz-Credential|X-Amz-Security-Token|AWSAccessKeyId|OSSAccessKeyId|Signature|q-signature|sign)=)[^&\s"']+`),
	// AWS-style access key identifiers appearing verbatim.
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
}

// Redact masks credential-looking material in s. Applied to every formatted
// engine error and to the settings the admin API returns.
func Redact(s string) string {
	out := s
	for i, pattern := range secretPatterns {
		if i == len(secretPatterns)-1 {
			out = pattern.ReplaceAllString(out, "***")
			continue
		}
		out = pattern.ReplaceAllString(out, "${1}***")
	}
	return out
}
