package profilefs

import (
	"context"
	"errors"
	"fmt"
)

// ProviderChain tries multiple encryption providers in order for decryption.
// The first provider is used for new encryptions, others for decryption
// fallback. This is useful during key or cipher migration.
//
// NoEncryption accepts any input, so it may only be the last provider.
type ProviderChain struct {
	providers []EncryptionProvider
}

// NewProviderChain creates a new provider chain
func NewProviderChain(providers ...EncryptionProvider) (*ProviderChain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if err := validateProviders(providers); err != nil {
		return nil, err
	}
	return &ProviderChain{providers: providers}, nil
}

func validateProviders(providers []EncryptionProvider) error {
	for i, p := range providers {
		if p == nil {
			return NewValidationError("encryption", i, "provider cannot be nil")
		}
		if _, plain := p.(NoEncryption); plain && i < len(providers)-1 {
			return NewValidationError("encryption", i, "NoEncryption must be the last provider")
		}
	}
	return nil
}

// Primary returns the provider used for encryption
func (c *ProviderChain) Primary() EncryptionProvider {
	return c.providers[0]
}

// Encrypt uses the primary provider
func (c *ProviderChain) Encrypt(plaintext []byte, key string) ([]byte, error) {
	return c.Primary().Encrypt(plaintext, key)
}

// TryDecrypt attempts decryption with each provider in order and returns the
// first successful result along with the provider that produced it.
func (c *ProviderChain) TryDecrypt(ciphertext []byte, key string) ([]byte, EncryptionProvider, error) {
	var errs []error
	for _, provider := range c.providers {
		plaintext, err := provider.Decrypt(ciphertext, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			continue
		}
		return plaintext, provider, nil
	}
	return nil, nil, fmt.Errorf("all encryption providers failed: %w", errors.Join(errs...))
}

// RotationOptions contains options for re-encryption
type RotationOptions struct {
	// DryRun reports which files would be rewritten without writing them
	DryRun bool

	// OnFile is called for every processed path, if set
	OnFile func(path string, err error)
}

// Reencrypt rewrites a stored file with the primary provider. Files that
// cannot be decrypted by any provider are left untouched and reported.
func (s *FileStorage) Reencrypt(ctx context.Context, path string, opts RotationOptions) error {
	res := s.Load(ctx, path)
	if res.Status == LoadInvalid {
		return fmt.Errorf("failed to re-encrypt %s: %w", path, res.Err)
	}
	if opts.DryRun {
		s.logger.Info("would re-encrypt", "path", path, "bytes", len(res.Data))
		return nil
	}
	return s.SaveBytes(ctx, path, res.Data)
}

// Verify checks that a stored file can be decrypted by the provider chain
func (s *FileStorage) Verify(ctx context.Context, path string) error {
	res := s.Load(ctx, path)
	if res.Status == LoadInvalid {
		return fmt.Errorf("verification failed for %s: %w", path, res.Err)
	}
	return nil
}

// ReencryptAll re-encrypts every path, continuing past failures.
func (s *FileStorage) ReencryptAll(ctx context.Context, paths []string, opts RotationOptions) error {
	var errs []error
	rotated := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.Reencrypt(ctx, p, opts)
		if opts.OnFile != nil {
			opts.OnFile(p, err)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rotated++
	}
	if len(errs) > 0 {
		return fmt.Errorf("key rotation completed with %d errors (rotated %d files): %w",
			len(errs), rotated, errors.Join(errs...))
	}
	s.logger.Debug("key rotation completed", "files", rotated)
	return nil
}
