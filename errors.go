package profilefs

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ValidationError represents a key, name or configuration validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EncryptionError represents an encryption or decryption failure
type EncryptionError struct {
	Operation string // "encrypt" or "decrypt"
	Path      string // File path, if applicable
	Provider  string // Provider name, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *EncryptionError) Error() string {
	if e.Path != "" && e.Provider != "" {
		return fmt.Sprintf("%s error: %s (%s): %s", e.Operation, e.Path, e.Provider, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Operation, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// IOError represents a backend I/O error
type IOError struct {
	Operation string // "read", "write", "delete", etc.
	Path      string // File path
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptionError represents stored content that cannot be decoded or
// fails its checksum.
type CorruptionError struct {
	Path    string // File path or key
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *CorruptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// NotInitializedError is returned when the file system is accessed outside
// of the Initialized state.
type NotInitializedError struct {
	Access string // The accessed member
	State  State  // State at the time of access
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("access to %s while file system is %s", e.Access, e.State)
}

// Is reports ErrNotInitialized as a match so callers can use errors.Is.
func (e *NotInitializedError) Is(target error) bool {
	return target == ErrNotInitialized
}

// TypeMismatchError is returned when a key is requested as a different type
// than the one it was stored with.
type TypeMismatchError struct {
	Key       string
	Stored    string
	Requested string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: %s is stored as %s, requested %s", e.Key, e.Stored, e.Requested)
}

// Common sentinel errors
var (
	ErrNotInitialized     = errors.New("file system is not initialized")
	ErrProfileNotLoaded   = errors.New("profile is not loaded")
	ErrKeyNotFound        = errors.New("key not found")
	ErrNilConfig          = errors.New("config cannot be nil")
	ErrNilBackend         = errors.New("backend cannot be nil")
	ErrNoProviders        = errors.New("at least one encryption provider required")
	ErrAuthFailed         = errors.New("authentication failed - data may be corrupted or tampered")
	ErrInvalidEnvelope    = errors.New("invalid encryption envelope")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrUnsupportedCipher  = errors.New("unsupported cipher suite")
	ErrEmptyPassphrase    = errors.New("passphrase cannot be empty")
)

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewEncryptionError creates a new encryption error
func NewEncryptionError(operation, path string, err error) error {
	return &EncryptionError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewCorruptionError creates a new corruption error
func NewCorruptionError(path string, message string) error {
	return &CorruptionError{
		Path:    path,
		Message: message,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEncryptionError checks if an error is an encryption error
func IsEncryptionError(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsTypeMismatch checks if an error is a type mismatch error
func IsTypeMismatch(err error) bool {
	var te *TypeMismatchError
	return errors.As(err, &te)
}
