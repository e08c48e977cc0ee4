package profilefs

import (
	"bytes"
	"errors"
	"testing"
)

func TestCipherEngine(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	plaintext := []byte("high score: 9001")

	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			engine, err := NewCipherEngine(suite, key)
			if err != nil {
				t.Fatalf("NewCipherEngine() error = %v", err)
			}
			if engine.Suite() != suite {
				t.Errorf("Suite() = %v, want %v", engine.Suite(), suite)
			}

			nonce, err := GenerateNonce(engine)
			if err != nil {
				t.Fatalf("GenerateNonce() error = %v", err)
			}
			ciphertext, err := engine.Encrypt(nonce, plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(ciphertext) != len(plaintext)+engine.Overhead() {
				t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+engine.Overhead())
			}

			got, err := engine.Decrypt(nonce, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("Decrypt() = %q, want %q", got, plaintext)
			}

			ciphertext[0] ^= 0xff
			if _, err := engine.Decrypt(nonce, ciphertext); !errors.Is(err, ErrAuthFailed) {
				t.Errorf("Decrypt(tampered) error = %v, want ErrAuthFailed", err)
			}
			if _, err := engine.Encrypt(nonce[:4], plaintext); err == nil {
				t.Error("Encrypt() with short nonce should fail")
			}
		})
	}
}

func TestNewCipherEngine_Errors(t *testing.T) {
	tests := []struct {
		name  string
		suite CipherSuite
		key   []byte
	}{
		{"aes short key", CipherAES256GCM, make([]byte, 16)},
		{"chacha short key", CipherChaCha20Poly1305, make([]byte, 31)},
		{"unknown suite", CipherSuite(99), make([]byte, 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCipherEngine(tt.suite, tt.key); err == nil {
				t.Error("NewCipherEngine() should fail")
			}
		})
	}
}

func TestAEADProvider(t *testing.T) {
	plaintext := []byte(`{"level":3,"gold":120}`)

	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			p, err := NewAEADProvider(suite, fastDeriver())
			if err != nil {
				t.Fatalf("NewAEADProvider() error = %v", err)
			}

			first, err := p.Encrypt(plaintext, "secret")
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			second, err := p.Encrypt(plaintext, "secret")
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Equal(first, second) {
				t.Error("two encryptions of the same data should differ")
			}
			if bytes.Contains(first, plaintext) {
				t.Error("ciphertext contains the plaintext")
			}

			got, err := p.Decrypt(first, "secret")
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("Decrypt() = %q, want %q", got, plaintext)
			}

			if _, err := p.Decrypt(first, "wrong"); !errors.Is(err, ErrAuthFailed) {
				t.Errorf("Decrypt(wrong key) error = %v, want ErrAuthFailed", err)
			}
			if _, err := p.Decrypt(plaintext, "secret"); !errors.Is(err, ErrInvalidEnvelope) {
				t.Errorf("Decrypt(plaintext) error = %v, want ErrInvalidEnvelope", err)
			}
		})
	}
}

func TestAEADProvider_FreshInstanceDecrypts(t *testing.T) {
	writer, err := NewAEADProvider(CipherAES256GCM, fastDeriver())
	if err != nil {
		t.Fatalf("NewAEADProvider() error = %v", err)
	}
	ciphertext, err := writer.Encrypt([]byte("persisted"), "secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	reader, err := NewAEADProvider(CipherChaCha20Poly1305, fastDeriver())
	if err != nil {
		t.Fatalf("NewAEADProvider() error = %v", err)
	}
	got, err := reader.Decrypt(ciphertext, "secret")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("Decrypt() = %q, want %q", got, "persisted")
	}
}

func TestNewAEADProvider_UnsupportedSuite(t *testing.T) {
	if _, err := NewAEADProvider(CipherSuite(0), nil); !errors.Is(err, ErrUnsupportedCipher) {
		t.Errorf("NewAEADProvider() error = %v, want ErrUnsupportedCipher", err)
	}
}

func TestNoEncryption(t *testing.T) {
	var p NoEncryption
	data := []byte("plain")
	enc, err := p.Encrypt(data, "ignored")
	if err != nil || !bytes.Equal(enc, data) {
		t.Errorf("Encrypt() = %q, %v", enc, err)
	}
	dec, err := p.Decrypt(data, "ignored")
	if err != nil || !bytes.Equal(dec, data) {
		t.Errorf("Decrypt() = %q, %v", dec, err)
	}
}

func TestKeyDerivers(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, 16)

	tests := []struct {
		name    string
		deriver KeyDeriver
	}{
		{"argon2id", fastDeriver()},
		{"pbkdf2 sha256", NewPBKDF2Deriver(PBKDF2Params{Iterations: 1000, HashFunc: SHA256})},
		{"pbkdf2 sha512", NewPBKDF2Deriver(PBKDF2Params{Iterations: 1000, HashFunc: SHA512})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k1, err := tt.deriver.DeriveKey([]byte("pass"), salt)
			if err != nil {
				t.Fatalf("DeriveKey() error = %v", err)
			}
			k2, err := tt.deriver.DeriveKey([]byte("pass"), salt)
			if err != nil {
				t.Fatalf("DeriveKey() error = %v", err)
			}
			if len(k1) != 32 {
				t.Errorf("key length = %d, want 32", len(k1))
			}
			if !bytes.Equal(k1, k2) {
				t.Error("same passphrase and salt should derive the same key")
			}

			other, err := tt.deriver.DeriveKey([]byte("other"), salt)
			if err != nil {
				t.Fatalf("DeriveKey() error = %v", err)
			}
			if bytes.Equal(k1, other) {
				t.Error("different passphrases should derive different keys")
			}

			if _, err := tt.deriver.DeriveKey(nil, salt); !errors.Is(err, ErrEmptyPassphrase) {
				t.Errorf("DeriveKey(empty) error = %v, want ErrEmptyPassphrase", err)
			}

			s1, err := tt.deriver.GenerateSalt()
			if err != nil {
				t.Fatalf("GenerateSalt() error = %v", err)
			}
			s2, _ := tt.deriver.GenerateSalt()
			if len(s1) != 32 || bytes.Equal(s1, s2) {
				t.Errorf("GenerateSalt() returned %d bytes, distinct = %v", len(s1), !bytes.Equal(s1, s2))
			}
		})
	}
}

func TestPBKDF2Deriver_UnsupportedHash(t *testing.T) {
	d := NewPBKDF2Deriver(PBKDF2Params{Iterations: 1000, HashFunc: HashFunc(9)})
	if _, err := d.DeriveKey([]byte("pass"), []byte("salt")); err == nil {
		t.Error("DeriveKey() with unknown hash should fail")
	}
}
