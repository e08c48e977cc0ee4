// Package profilefs provides profile-partitioned persistent storage for
// application data, with optional at-rest encryption.
//
// # Overview
//
// A FileSystem owns a set of profiles (save slots). Exactly one user profile
// is active at a time; a shared profile is always loaded and holds data that
// belongs to no particular user as well as the file system's own
// bookkeeping. Every profile is a folder with a header file listing its keys
// and one content file per key.
//
// # Layout
//
//	<root>/
//	    _shared/_shared.sav      shared profile header
//	    _shared/storage.sav      active profile and profile counter
//	    _shared/profiles.sav     ordered list of profile header paths
//	    Profile1/_slot.sav       user profile header
//	    Profile1/score.sav       one file per stored key
//
// # Basic Usage
//
//	fsys := profilefs.New()
//	err := fsys.Initialize(ctx, profilefs.Config{
//	    Settings: profilefs.Settings{
//	        RootFolder:    "/var/lib/mygame",
//	        FileExtension: ".sav",
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer fsys.Shutdown(ctx)
//
//	p, _ := fsys.Profile()
//	if err := profilefs.Store(p, "score", 42); err != nil {
//	    return err
//	}
//	err = p.SaveFile(ctx, "score")
//
// Values are cached in memory. Nothing is written until the profile, its
// dirty keys or a single key are saved.
//
// # Types
//
// Every stored key records a type tag. Tags of types registered in the
// TypeRegistry are decoded when a profile loads; other values stay raw until
// first read with Get, TryGet or Resolve. Reading a key as a type other than
// the one it was stored with returns a TypeMismatchError.
//
// # Encryption
//
// Files are passed through a chain of EncryptionProviders. The first one
// encrypts; all of them are tried in order to decrypt, so a new provider can
// be put in front of an old one and FileSystem.Reencrypt migrates existing
// files. AEADProvider supports AES-256-GCM and ChaCha20-Poly1305 with keys
// derived by Argon2id or PBKDF2.
//
// Encrypted files start with an envelope:
//   - Magic bytes (4 bytes): "PFSE" (0x50465345)
//   - Version (1 byte)
//   - Cipher suite (1 byte)
//   - Salt size (2 bytes) and salt
//   - Nonce size (2 bytes) and nonce
//   - Ciphertext and authentication tag
//
// # Backends
//
// DiskBackend writes to the host file system with atomic renames.
// AbsBackend stores files in any absfs.FileSystem; NewMemoryBackend returns
// one over an in-memory file system for tests and tools.
package profilefs
