package profilefs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherEngine provides AEAD encryption/decryption
type CipherEngine interface {
	// Suite reports which cipher suite the engine implements
	Suite() CipherSuite

	// Encrypt encrypts plaintext with the given nonce
	Encrypt(nonce, plaintext []byte) ([]byte, error)

	// Decrypt decrypts ciphertext with the given nonce
	Decrypt(nonce, ciphertext []byte) ([]byte, error)

	// NonceSize returns the size of nonces in bytes
	NonceSize() int

	// Overhead returns the authentication tag size
	Overhead() int
}

// aeadEngine backs both supported suites; they differ only in construction.
type aeadEngine struct {
	suite CipherSuite
	aead  cipher.AEAD
}

// NewCipherEngine creates a cipher engine for the suite using a 32-byte key
func NewCipherEngine(suite CipherSuite, key []byte) (CipherEngine, error) {
	switch suite {
	case CipherAES256GCM:
		if len(key) != 32 {
			return nil, fmt.Errorf("AES-256 requires a 32-byte key, got %d bytes", len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return &aeadEngine{suite: suite, aead: aead}, nil

	case CipherChaCha20Poly1305:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("ChaCha20-Poly1305 requires a %d-byte key, got %d bytes",
				chacha20poly1305.KeySize, len(key))
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
		return &aeadEngine{suite: suite, aead: aead}, nil

	default:
		return nil, ErrUnsupportedCipher
	}
}

func (e *aeadEngine) Suite() CipherSuite { return e.suite }

func (e *aeadEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *aeadEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *aeadEngine) NonceSize() int { return e.aead.NonceSize() }

func (e *aeadEngine) Overhead() int { return e.aead.Overhead() }

// GenerateNonce generates a random nonce sized for the engine
func GenerateNonce(engine CipherEngine) ([]byte, error) {
	nonce := make([]byte, engine.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}
