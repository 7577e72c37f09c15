// Package errors defines the structured error taxonomy shared by the module
// system and the execution runtime.
package errors

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced across package boundaries.
const (
	CodeModuleNotFound      = "MODULE_NOT_FOUND"
	CodeModuleInstall       = "MODULE_INSTALL"
	CodeVersionIncompatible = "VERSION_INCOMPATIBLE"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeSignatureInvalid    = "SIGNATURE_INVALID"
	CodeValidation          = "VALIDATION"
)

// DomainError is a structured error carrying a stable code, a human-readable
// message and the subject (module, permission, execution) it refers to.
type DomainError struct {
	Code    string
	Message string
	Subject string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Subject)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// New creates a DomainError with the given code, message and subject.
func New(code, message, subject string) *DomainError {
	return &DomainError{Code: code, Message: message, Subject: subject}
}

// Wrap creates a DomainError wrapping an underlying cause.
func Wrap(code, message, subject string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Subject: subject, Err: err}
}

// ModuleNotFound reports an unknown module, tool or sandbox reference.
func ModuleNotFound(subject string) *DomainError {
	return New(CodeModuleNotFound, "module not found", subject)
}

// ModuleInstall reports a load or definition-shape failure during install.
func ModuleInstall(subject string, err error) *DomainError {
	return Wrap(CodeModuleInstall, "module install failed", subject, err)
}

// VersionIncompatible reports a semver bound violation against the core version.
func VersionIncompatible(subject, detail string) *DomainError {
	return New(CodeVersionIncompatible, detail, subject)
}

// PermissionDenied reports a missing capability or a declined activation.
func PermissionDenied(subject, detail string) *DomainError {
	return New(CodePermissionDenied, detail, subject)
}

// SignatureInvalid reports a checksum or signature mismatch.
func SignatureInvalid(subject, detail string) *DomainError {
	return New(CodeSignatureInvalid, detail, subject)
}

// Validation reports malformed input, such as an empty module id.
func Validation(detail string) *DomainError {
	return New(CodeValidation, detail, "")
}

// HasCode reports whether err is (or wraps) a DomainError with the given code.
func HasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
