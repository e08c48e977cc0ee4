package profilefs

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KeyDeriver turns a passphrase and salt into a symmetric key.
type KeyDeriver interface {
	// DeriveKey derives an encryption key from the passphrase and salt
	DeriveKey(passphrase, salt []byte) ([]byte, error)

	// GenerateSalt generates a new random salt
	GenerateSalt() ([]byte, error)
}

// Argon2idDeriver derives keys with Argon2id (recommended)
type Argon2idDeriver struct {
	params Argon2idParams
}

// NewArgon2idDeriver creates an Argon2id deriver, filling unset parameters
// with defaults.
func NewArgon2idDeriver(params Argon2idParams) *Argon2idDeriver {
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &Argon2idDeriver{params: params}
}

func (d *Argon2idDeriver) DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if err := checkDeriveInput(passphrase, salt); err != nil {
		return nil, err
	}
	return argon2.IDKey(
		passphrase,
		salt,
		d.params.Iterations,
		d.params.Memory,
		d.params.Parallelism,
		uint32(d.params.KeySize),
	), nil
}

func (d *Argon2idDeriver) GenerateSalt() ([]byte, error) {
	return randomSalt(d.params.SaltSize)
}

// PBKDF2Deriver derives keys with PBKDF2
type PBKDF2Deriver struct {
	params PBKDF2Params
}

// NewPBKDF2Deriver creates a PBKDF2 deriver, filling unset parameters with
// defaults.
func NewPBKDF2Deriver(params PBKDF2Params) *PBKDF2Deriver {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PBKDF2Deriver{params: params}
}

func (d *PBKDF2Deriver) DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if err := checkDeriveInput(passphrase, salt); err != nil {
		return nil, err
	}

	var hashFunc func() hash.Hash
	switch d.params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, fmt.Errorf("unsupported hash function: %v", d.params.HashFunc)
	}

	return pbkdf2.Key(passphrase, salt, d.params.Iterations, d.params.KeySize, hashFunc), nil
}

func (d *PBKDF2Deriver) GenerateSalt() ([]byte, error) {
	return randomSalt(d.params.SaltSize)
}

func checkDeriveInput(passphrase, salt []byte) error {
	if len(passphrase) == 0 {
		return ErrEmptyPassphrase
	}
	if len(salt) == 0 {
		return errors.New("salt cannot be empty")
	}
	return nil
}

func randomSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
