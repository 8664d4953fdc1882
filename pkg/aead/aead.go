// Package aead provides authenticated symmetric encryption for process-wide
// secrets (cookie contents, CSRF state) using 256-bit AES-GCM.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const keySize = 32 // force 256-bit AES

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if n != got {
		return nil, errors.New("aead: unable to generate enough random data")
	}
	return b, nil
}

// Encrypt seals plaintext under key using AES-256-GCM. The output takes the
// form nonce||ciphertext||tag where || denotes concatenation. It both hides
// the content of the data and authenticates that it hasn't been altered.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, aes.KeySizeError(len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce, err := RandBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any tampering with the
// nonce, ciphertext, or tag is detected and reported as an error.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, aes.KeySizeError(len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("aead: ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
