package profilefs

import (
	"bytes"
	"fmt"
	"sync"
)

// DefaultEncryptionKey is used when the settings do not provide a key. It
// only obfuscates data and must be replaced for real protection.
const DefaultEncryptionKey = "profilefs-default-key-3f9c2a"

// EncryptionProvider transforms bytes to and from their stored form.
type EncryptionProvider interface {
	// Name identifies the provider in logs and errors
	Name() string

	// Encrypt encrypts plaintext with the given key
	Encrypt(plaintext []byte, key string) ([]byte, error)

	// Decrypt decrypts ciphertext with the given key
	Decrypt(ciphertext []byte, key string) ([]byte, error)
}

// NoEncryption stores bytes unchanged. Its Decrypt never fails, so in a
// ProviderChain it must be the last provider.
type NoEncryption struct{}

func (NoEncryption) Name() string { return "none" }

func (NoEncryption) Encrypt(plaintext []byte, _ string) ([]byte, error) {
	return plaintext, nil
}

func (NoEncryption) Decrypt(ciphertext []byte, _ string) ([]byte, error) {
	return ciphertext, nil
}

// AEADProvider encrypts with an AEAD cipher suite and a key derived from the
// passphrase. Output is an Envelope followed by the ciphertext.
//
// Key derivation is expensive, so one salt is generated per passphrase for
// the lifetime of the provider and derived keys are cached by salt.
type AEADProvider struct {
	suite   CipherSuite
	deriver KeyDeriver

	mu    sync.Mutex
	salts map[string][]byte // passphrase -> session salt
	keys  map[string][]byte // passphrase + salt -> derived key
}

// NewAEADProvider creates a provider for the suite. A nil deriver selects
// Argon2id with default parameters.
func NewAEADProvider(suite CipherSuite, deriver KeyDeriver) (*AEADProvider, error) {
	if suite != CipherAES256GCM && suite != CipherChaCha20Poly1305 {
		return nil, ErrUnsupportedCipher
	}
	if deriver == nil {
		deriver = NewArgon2idDeriver(Argon2idParams{})
	}
	return &AEADProvider{
		suite:   suite,
		deriver: deriver,
		salts:   make(map[string][]byte),
		keys:    make(map[string][]byte),
	}, nil
}

func (p *AEADProvider) Name() string { return p.suite.String() }

func (p *AEADProvider) Encrypt(plaintext []byte, key string) ([]byte, error) {
	salt, err := p.sessionSalt(key)
	if err != nil {
		return nil, err
	}
	engine, err := p.engine(p.suite, key, salt)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce(engine)
	if err != nil {
		return nil, err
	}
	ciphertext, err := engine.Encrypt(nonce, plaintext)
	if err != nil {
		return nil, err
	}

	env := NewEnvelope(p.suite, salt, nonce)
	buf := bytes.NewBuffer(make([]byte, 0, env.Size()+len(ciphertext)))
	if _, err := env.WriteTo(buf); err != nil {
		return nil, err
	}
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

func (p *AEADProvider) Decrypt(ciphertext []byte, key string) ([]byte, error) {
	r := bytes.NewReader(ciphertext)
	var env Envelope
	if _, err := env.ReadFrom(r); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	engine, err := p.engine(env.Cipher, key, env.Salt)
	if err != nil {
		return nil, err
	}
	return engine.Decrypt(env.Nonce, ciphertext[len(ciphertext)-r.Len():])
}

func (p *AEADProvider) sessionSalt(key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if salt, ok := p.salts[key]; ok {
		return salt, nil
	}
	salt, err := p.deriver.GenerateSalt()
	if err != nil {
		return nil, err
	}
	p.salts[key] = salt
	return salt, nil
}

func (p *AEADProvider) engine(suite CipherSuite, key string, salt []byte) (CipherEngine, error) {
	cacheKey := fmt.Sprintf("%s\x00%x", key, salt)

	p.mu.Lock()
	derived, ok := p.keys[cacheKey]
	p.mu.Unlock()

	if !ok {
		var err error
		derived, err = p.deriver.DeriveKey([]byte(key), salt)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
		p.mu.Lock()
		p.keys[cacheKey] = derived
		p.mu.Unlock()
	}
	return NewCipherEngine(suite, derived)
}
