// Package crypt implements the authenticated encryption used by the secure
// storage pipeline.
//
// Every Encrypt call seals the plaintext under a brand new AES-256 key and a
// fresh 96-bit IV in Galois/Counter Mode. Key and IV are never reused across
// calls; both come straight from crypto/rand. The 128-bit authentication tag
// is carried separately from the ciphertext in metadata, but whenever the two
// travel as one unit the tag sits after the ciphertext.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeyLength is the AES-256 key size in bytes.
	KeyLength = 32
	// IVLength is the GCM initialization vector size in bytes.
	IVLength = 12
	// TagLength is the GCM authentication tag size in bytes.
	TagLength = 16
)

var (
	// ErrAuthenticationFailure marks a failed tag verification: tampered
	// ciphertext, wrong key or wrong IV. No plaintext is ever returned
	// alongside it.
	ErrAuthenticationFailure = errors.New("crypt: authentication failure")

	// ErrInvalidKeyMaterial marks key material with wrong lengths.
	ErrInvalidKeyMaterial = errors.New("crypt: invalid key material")
)

// Envelope is the result of one Encrypt call. All fields are raw bytes;
// callers do any base64 transport encoding themselves.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	Key        []byte
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random key and IV.
func Encrypt(plaintext []byte) (Envelope, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return Envelope{}, fmt.Errorf("error generating AES key: %w", err)
	}

	iv := make([]byte, IVLength)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("error generating IV: %w", err)
	}

	aead, err := newGCM(key)
	if err != nil {
		return Envelope{}, err
	}

	// Seal appends the tag to the ciphertext; split it back off so the tag
	// can be stored with the key material.
	sealed := aead.Seal(nil, iv, plaintext, nil)
	cut := len(sealed) - TagLength

	return Envelope{
		Ciphertext: sealed[:cut],
		IV:         iv,
		Tag:        sealed[cut:],
		Key:        key,
	}, nil
}

// Decrypt reverses Encrypt. It verifies the tag and decrypts in one
// operation and returns ErrAuthenticationFailure if verification fails.
func Decrypt(ciphertext, iv, tag, key []byte) ([]byte, error) {
	if err := ValidateKeyMaterial(key, iv, tag); err != nil {
		return nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}

	return plaintext, nil
}

// ValidateKeyMaterial checks the fixed lengths of key, IV and tag.
func ValidateKeyMaterial(key, iv, tag []byte) error {
	if len(key) != KeyLength {
		return fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidKeyMaterial, len(key), KeyLength)
	}
	if len(iv) != IVLength {
		return fmt.Errorf("%w: iv is %d bytes, want %d", ErrInvalidKeyMaterial, len(iv), IVLength)
	}
	if len(tag) != TagLength {
		return fmt.Errorf("%w: tag is %d bytes, want %d", ErrInvalidKeyMaterial, len(tag), TagLength)
	}
	return nil
}

// Combined returns ciphertext with the tag appended, the form used when
// ciphertext and tag travel as one unit.
func (e Envelope) Combined() []byte {
	out := make([]byte, 0, len(e.Ciphertext)+len(e.Tag))
	out = append(out, e.Ciphertext...)
	out = append(out, e.Tag...)
	return out
}

// SplitCombined splits a combined ciphertext||tag byte string back into its
// two parts using the fixed tag length.
func SplitCombined(combined []byte) (ciphertext, tag []byte, err error) {
	if len(combined) < TagLength {
		return nil, nil, fmt.Errorf("%w: combined ciphertext is %d bytes, shorter than the tag", ErrInvalidKeyMaterial, len(combined))
	}
	cut := len(combined) - TagLength
	return combined[:cut], combined[cut:], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVLength)
	if err != nil {
		return nil, fmt.Errorf("error creating GCM: %w", err)
	}
	return aead, nil
}
