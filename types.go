package profilefs

// Persisted file names.
const (
	// FileSystemDataKey stores the active profile path and the profile counter.
	FileSystemDataKey = "storage.sav"
	// ProfilePathsKey stores the ordered list of known profile header paths.
	ProfilePathsKey = "profiles.sav"
	// ProfileHeaderName is the header file name of every user profile.
	ProfileHeaderName = "_slot.sav"

	SharedProfileName   = "Shared"
	SharedProfileFolder = "_shared"
	SharedProfileHeader = "_shared.sav"

	// MaxProfileNameLength is the longest accepted profile display name.
	MaxProfileNameLength = 64

	// DefaultProfileName is used as the default name prefix when the
	// settings do not provide one.
	DefaultProfileName = "Profile"
)

// State is the lifecycle state of a FileSystem.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateShuttingDown
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// CreationStatus is the outcome of a profile creation request.
type CreationStatus uint8

const (
	CreationSuccess CreationStatus = iota
	NameInvalid
	NameTooLong
	NameNotAvailable
	ProfileLimitReached
	SystemReservedName
)

// String returns the string representation of the creation status
func (s CreationStatus) String() string {
	switch s {
	case CreationSuccess:
		return "success"
	case NameInvalid:
		return "name invalid"
	case NameTooLong:
		return "name too long"
	case NameNotAvailable:
		return "name not available"
	case ProfileLimitReached:
		return "profile limit reached"
	case SystemReservedName:
		return "system reserved name"
	default:
		return "unknown"
	}
}

// CreateArgs describes a profile creation request. An empty Name asks for a
// generated default name.
type CreateArgs struct {
	Name     string
	Activate bool
}

// CreationResult is returned by CreateProfile. Profile is nil unless Status
// is CreationSuccess.
type CreationResult struct {
	Profile *Profile
	Status  CreationStatus
}

// Success reports whether the profile was created.
func (r CreationResult) Success() bool {
	return r.Status == CreationSuccess
}

// CipherSuite represents the encryption algorithm to use
type CipherSuite uint8

const (
	// CipherAES256GCM uses AES-256 with Galois/Counter Mode
	CipherAES256GCM CipherSuite = iota + 1
	// CipherChaCha20Poly1305 uses ChaCha20 stream cipher with Poly1305 MAC
	CipherChaCha20Poly1305
)

// String returns the string representation of the cipher suite
func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000 recommended)
	HashFunc   HashFunc // Hash function to use
	SaltSize   int      // Salt size in bytes (default 32)
	KeySize    int      // Derived key size in bytes (default 32 for AES-256)
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
	SaltSize    int    // Salt size in bytes (default 32)
	KeySize     int    // Derived key size in bytes (default 32 for AES-256)
}
