package profilefs

import (
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/glob"
)

// MaxKeyLength is the longest accepted key, extension included
const MaxKeyLength = 128

// systemPattern is always allowed so bookkeeping files pass an allow-list
const systemPattern = "*.sav"

var (
	validKeyChars  = regexp.MustCompile(`^[A-Za-z0-9 _.\-]+$`)
	validNameChars = regexp.MustCompile(`^[A-Za-z0-9 _\-]+$`)
)

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// Extension is appended to keys that do not already end with it
	Extension string

	// AllowedExtensions are glob patterns keys must match, e.g. "*.json".
	// Empty allows every key.
	AllowedExtensions []string

	// ReservedPrefix is the default profile name; the prefix followed only
	// by digits is reserved for generated names.
	ReservedPrefix string

	// VerifyContent enables checksum verification in CheckContent
	VerifyContent bool

	// LogMissingExtension warns about keys without any extension
	LogMissingExtension bool

	Logger *slog.Logger
}

// Validator enforces key and profile name constraints.
type Validator struct {
	extension     string
	allowed       []glob.Glob
	reserved      *regexp.Regexp
	verifyContent bool
	logMissing    bool
	logger        *slog.Logger
}

// NewValidator creates a Validator
func NewValidator(opts ValidatorOptions) (*Validator, error) {
	if opts.Extension != "" && !strings.HasPrefix(opts.Extension, ".") {
		opts.Extension = "." + opts.Extension
	}
	if opts.Extension != "" && !validKeyChars.MatchString(opts.Extension) {
		return nil, &ValidationError{
			Field:   "extension",
			Value:   opts.Extension,
			Message: "contains invalid characters",
		}
	}
	if opts.ReservedPrefix == "" {
		opts.ReservedPrefix = DefaultProfileName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := &Validator{
		extension:     opts.Extension,
		reserved:      regexp.MustCompile(`^` + regexp.QuoteMeta(opts.ReservedPrefix) + `\d*$`),
		verifyContent: opts.VerifyContent,
		logMissing:    opts.LogMissingExtension,
		logger:        logger.With("component", "validator"),
	}

	if len(opts.AllowedExtensions) > 0 {
		patterns := []string{systemPattern}
		if opts.Extension != "" {
			patterns = append(patterns, systemPattern+opts.Extension)
		}
		patterns = append(patterns, opts.AllowedExtensions...)
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return nil, &ValidationError{
					Field:   "allowed_extensions",
					Value:   p,
					Message: "invalid pattern",
					Err:     err,
				}
			}
			v.allowed = append(v.allowed, g)
		}
	}
	return v, nil
}

// Extension returns the extension appended to keys
func (v *Validator) Extension() string {
	return v.extension
}

// ValidateKey normalizes key and checks that it is safe to use as a file
// name inside a profile folder. The normalized key is returned.
func (v *Validator) ValidateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", &ValidationError{
			Field:   "key",
			Message: "key cannot be empty",
		}
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", &ValidationError{
			Field:   "key",
			Value:   key,
			Message: "must not contain path separators or '..'",
		}
	}
	if !validKeyChars.MatchString(key) {
		return "", &ValidationError{
			Field:   "key",
			Value:   key,
			Message: "contains invalid characters",
		}
	}

	if v.extension != "" && !strings.HasSuffix(key, v.extension) {
		key += v.extension
	}
	if v.logMissing && path.Ext(key) == "" {
		v.logger.Warn("key has no file extension", "key", key)
	}

	if n := utf8.RuneCountInString(key); n > MaxKeyLength {
		return "", &ValidationError{
			Field:   "key",
			Value:   n,
			Message: fmt.Sprintf("key too long: got %d characters, maximum is %d", n, MaxKeyLength),
		}
	}

	if len(v.allowed) > 0 && !v.matchesAllowed(key) {
		return "", &ValidationError{
			Field:   "key",
			Value:   key,
			Message: "extension is not allowed",
		}
	}
	return key, nil
}

func (v *Validator) matchesAllowed(key string) bool {
	for _, g := range v.allowed {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// IsValidProfileName reports whether name can be used as a profile display
// name. Length is checked separately by the caller.
func (v *Validator) IsValidProfileName(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	if strings.HasPrefix(name, "_") {
		return false
	}
	return validNameChars.MatchString(name)
}

// IsReservedName reports whether name is reserved for generated profiles
func (v *Validator) IsReservedName(name string) bool {
	return v.reserved.MatchString(name)
}

// Checksum returns the content checksum recorded in file headers
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// CheckContent verifies data against the checksum recorded when it was
// saved. It is a no-op unless content verification is enabled or when no
// checksum was recorded.
func (v *Validator) CheckContent(key string, data []byte, checksum uint64) error {
	if !v.verifyContent || checksum == 0 {
		return nil
	}
	if got := Checksum(data); got != checksum {
		return &CorruptionError{
			Path:    key,
			Message: fmt.Sprintf("checksum mismatch: got %016x, want %016x", got, checksum),
		}
	}
	return nil
}
