package profilefs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gobeaver/beaver-kit/config"
	"github.com/tailscale/hujson"
)

// Settings is the serializable part of the configuration. It can be read
// from a JSON file with comments (LoadSettingsFile) or from PROFILEFS_*
// environment variables (LoadSettingsEnv).
type Settings struct {
	// RootFolder is the directory of the default disk backend. Empty uses
	// the user config directory.
	RootFolder string `json:"rootFolder" env:"ROOT_FOLDER"`

	// VersionRootFolder stores files below a folder named after Version
	VersionRootFolder bool `json:"versionRootFolder" env:"VERSION_ROOT_FOLDER,default:false"`

	// Version is the application version recorded in profile headers
	Version string `json:"version" env:"VERSION"`

	// UseBuildVersion takes Version from the main module build info when
	// Version is empty
	UseBuildVersion bool `json:"useBuildVersion" env:"USE_BUILD_VERSION,default:false"`

	// FileExtension is appended to every key, e.g. ".sav"
	FileExtension string `json:"fileExtension" env:"FILE_EXTENSION"`

	// AllowedExtensions is a comma-separated list of key glob patterns
	AllowedExtensions string `json:"allowedExtensions" env:"ALLOWED_EXTENSIONS"`

	// ForceSynchronous makes every Async variant run inline
	ForceSynchronous bool `json:"forceSynchronous" env:"FORCE_SYNCHRONOUS,default:false"`

	// DefaultProfileName prefixes generated profile names and is reserved
	DefaultProfileName string `json:"defaultProfileName" env:"DEFAULT_PROFILE_NAME,default:Profile"`

	// ProfileLimit caps the number of profiles; 0 means unlimited
	ProfileLimit int `json:"profileLimit" env:"PROFILE_LIMIT,default:0"`

	// ExceptionLogging is the level storage failures are logged at:
	// none, debug, info, warn or error
	ExceptionLogging string `json:"exceptionLogging" env:"EXCEPTION_LOGGING,default:warn"`

	// EncryptionKey is passed to the encryption providers
	EncryptionKey string `json:"encryptionKey" env:"ENCRYPTION_KEY"`

	// VerifyContent checks stored checksums on load
	VerifyContent bool `json:"verifyContent" env:"VERIFY_CONTENT,default:false"`

	// LogMissingExtension warns about keys without a file extension
	LogMissingExtension bool `json:"logMissingExtension" env:"LOG_MISSING_EXTENSION,default:false"`

	// LoadWorkers bounds parallel profile header loading; 0 uses NumCPU
	LoadWorkers int `json:"loadWorkers" env:"LOAD_WORKERS,default:0"`
}

// DefaultSettings returns the settings used for unset fields
func DefaultSettings() Settings {
	return Settings{
		DefaultProfileName: DefaultProfileName,
		ExceptionLogging:   "warn",
	}
}

// AllowedPatterns splits AllowedExtensions
func (s Settings) AllowedPatterns() []string {
	var out []string
	for _, p := range strings.Split(s.AllowedExtensions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseSettings decodes settings from JSON with comments and trailing
// commas. Unset fields keep their defaults.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	std, err := hujson.Standardize(data)
	if err != nil {
		return s, fmt.Errorf("parsing settings: %w", err)
	}
	if err := json.Unmarshal(std, &s); err != nil {
		return s, fmt.Errorf("decoding settings: %w", err)
	}
	return s, nil
}

// LoadSettingsFile reads settings from a JSONC file
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("reading settings: %w", err)
	}
	return ParseSettings(data)
}

// EnvPrefix is prepended to the env tag of every Settings field
const EnvPrefix = "PROFILEFS_"

// LoadSettingsEnv reads settings from PROFILEFS_* environment variables
func LoadSettingsEnv() (Settings, error) {
	s := &Settings{}
	if err := config.Load(s, config.LoadOptions{Prefix: EnvPrefix}); err != nil {
		return DefaultSettings(), fmt.Errorf("loading settings from environment: %w", err)
	}
	return *s, nil
}

// Config contains configuration for a FileSystem
type Config struct {
	Settings

	// Backend performs file I/O. Nil uses a DiskBackend at RootFolder.
	Backend Backend

	// Encryption providers; the first encrypts, all are tried to decrypt.
	// Empty stores plaintext. NoEncryption may only come last.
	Encryption []EncryptionProvider

	// Serializer encodes stored values. Defaults to JSONSerializer.
	Serializer Serializer

	// Types maps stored type tags to Go types. Defaults to NewTypeRegistry().
	Types *TypeRegistry

	// Converter imports legacy data during initialization, if set
	Converter Converter

	Logger *slog.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.ProfileLimit < 0 {
		return NewValidationError("profile_limit", c.ProfileLimit, "cannot be negative")
	}
	if err := validateWorkers(c.LoadWorkers); err != nil {
		return &ValidationError{Field: "load_workers", Value: c.LoadWorkers, Message: err.Error(), Err: err}
	}
	if _, err := parseFailureLevel(c.ExceptionLogging); err != nil {
		return err
	}
	if len(c.DefaultProfileName) > MaxProfileNameLength {
		return NewValidationError("default_profile_name", c.DefaultProfileName, "too long")
	}
	return validateProviders(c.Encryption)
}

// resolve validates c and fills every unset field.
func (c Config) resolve() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Serializer == nil {
		c.Serializer = JSONSerializer{}
	}
	if c.Types == nil {
		c.Types = NewTypeRegistry()
	}
	if c.DefaultProfileName == "" {
		c.DefaultProfileName = DefaultProfileName
	}
	if c.EncryptionKey == "" {
		c.EncryptionKey = DefaultEncryptionKey
	}
	if c.Version == "" && c.UseBuildVersion {
		c.Version = buildVersion()
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Backend == nil {
		c.Backend = NewDiskBackend(c.defaultRoot())
	}
	return c, nil
}

func (c Config) defaultRoot() string {
	if c.RootFolder != "" {
		return c.RootFolder
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "profilefs")
	}
	return "."
}

// storageRoot is the folder inside the backend all files are stored under.
func (c Config) storageRoot() string {
	if c.VersionRootFolder {
		return c.Version
	}
	return ""
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}

// parseFailureLevel maps ExceptionLogging to a log level. A nil level
// disables failure logging.
func parseFailureLevel(s string) (*slog.Level, error) {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return nil, nil
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "", "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, NewValidationError("exception_logging", s, "must be none, debug, info, warn or error")
	}
	return &level, nil
}
