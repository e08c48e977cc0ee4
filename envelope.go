package profilefs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// EnvelopeMagic identifies encrypted payloads (ASCII: "PFSE")
	EnvelopeMagic = uint32(0x50465345)

	// EnvelopeVersion is the current envelope format version
	EnvelopeVersion = uint8(1)

	// 4 bytes (magic) + 1 byte (version) + 1 byte (cipher) + 2 bytes (salt size)
	minEnvelopeSize = 8

	// upper bound for salt and nonce lengths read from untrusted input
	maxEnvelopeField = 1024
)

// Envelope is the prefix written before every AEAD-encrypted payload. It
// carries what a reader needs to derive the key and open the ciphertext.
type Envelope struct {
	Magic   uint32
	Version uint8
	Cipher  CipherSuite
	Salt    []byte
	Nonce   []byte
}

// NewEnvelope creates an envelope for the given parameters
func NewEnvelope(suite CipherSuite, salt, nonce []byte) *Envelope {
	return &Envelope{
		Magic:   EnvelopeMagic,
		Version: EnvelopeVersion,
		Cipher:  suite,
		Salt:    salt,
		Nonce:   nonce,
	}
}

// Size returns the encoded size of the envelope in bytes
func (h *Envelope) Size() int {
	return minEnvelopeSize + len(h.Salt) + 2 + len(h.Nonce)
}

// WriteTo writes the envelope to the given writer
func (h *Envelope) WriteTo(w io.Writer) (int64, error) {
	buf := bytes.NewBuffer(make([]byte, 0, h.Size()))

	fields := []any{h.Magic, h.Version, uint8(h.Cipher), uint16(len(h.Salt))}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return 0, fmt.Errorf("failed to write envelope field: %w", err)
		}
	}
	buf.Write(h.Salt)

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(h.Nonce))); err != nil {
		return 0, fmt.Errorf("failed to write nonce size: %w", err)
	}
	buf.Write(h.Nonce)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom reads the envelope from the given reader
func (h *Envelope) ReadFrom(r io.Reader) (int64, error) {
	var fixed [minEnvelopeSize]byte
	n, err := io.ReadFull(r, fixed[:])
	total := int64(n)
	if err != nil {
		return total, ErrInvalidEnvelope
	}

	h.Magic = binary.LittleEndian.Uint32(fixed[0:4])
	if h.Magic != EnvelopeMagic {
		return total, ErrInvalidEnvelope
	}
	h.Version = fixed[4]
	if h.Version > EnvelopeVersion {
		return total, ErrUnsupportedVersion
	}
	h.Cipher = CipherSuite(fixed[5])

	saltSize := int(binary.LittleEndian.Uint16(fixed[6:8]))
	if saltSize > maxEnvelopeField {
		return total, ErrInvalidEnvelope
	}
	h.Salt = make([]byte, saltSize)
	n, err = io.ReadFull(r, h.Salt)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("failed to read salt: %w", err)
	}

	var size [2]byte
	n, err = io.ReadFull(r, size[:])
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("failed to read nonce size: %w", err)
	}
	nonceSize := int(binary.LittleEndian.Uint16(size[:]))
	if nonceSize > maxEnvelopeField {
		return total, ErrInvalidEnvelope
	}
	h.Nonce = make([]byte, nonceSize)
	n, err = io.ReadFull(r, h.Nonce)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("failed to read nonce: %w", err)
	}

	return total, nil
}

// Validate checks if the envelope is valid
func (h *Envelope) Validate() error {
	if h.Magic != EnvelopeMagic {
		return ErrInvalidEnvelope
	}
	if h.Version > EnvelopeVersion {
		return ErrUnsupportedVersion
	}
	if h.Cipher != CipherAES256GCM && h.Cipher != CipherChaCha20Poly1305 {
		return ErrUnsupportedCipher
	}
	if len(h.Salt) == 0 {
		return fmt.Errorf("salt cannot be empty")
	}
	if len(h.Nonce) == 0 {
		return fmt.Errorf("nonce cannot be empty")
	}
	return nil
}
