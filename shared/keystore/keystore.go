// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package keystore holds the process-wide key material: the RS256 key pair
// used for token signing and the symmetric keys used for secret encryption.
// Keys are loaded once at startup and shared via explicit handles.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSigningKey indicates the RS256 private key was not configured.
	ErrNoSigningKey = errors.New("keystore: signing key not configured")
	// ErrInvalidCiphertext indicates a ciphertext that cannot be decrypted.
	ErrInvalidCiphertext = errors.New("keystore: invalid ciphertext")
)

// Keystore holds signing and encryption keys for the process.
type Keystore struct {
	privateKey     *rsa.PrivateKey
	publicKey      *rsa.PublicKey
	secretAEAD     cipher.AEAD
	credentialAEAD cipher.AEAD
}

// New builds a Keystore from PEM-encoded RSA keys and the two symmetric keys.
// The symmetric keys may be any non-empty string; they are stretched to
// 256 bits with SHA-256 before use.
func New(privateKeyPEM, publicKeyPEM []byte, encryptionKey, credentialEncryptionKey string) (*Keystore, error) {
	ks := &Keystore{}

	if len(privateKeyPEM) > 0 {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
		}
		ks.privateKey = priv
		ks.publicKey = &priv.PublicKey
	}

	if ks.publicKey == nil && len(publicKeyPEM) > 0 {
		pub, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		ks.publicKey = pub
	}

	if encryptionKey != "" {
		aead, err := newAEAD(encryptionKey)
		if err != nil {
			return nil, err
		}
		ks.secretAEAD = aead
	}

	if credentialEncryptionKey != "" {
		aead, err := newAEAD(credentialEncryptionKey)
		if err != nil {
			return nil, err
		}
		ks.credentialAEAD = aead
	}

	return ks, nil
}

func newAEAD(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SigningKey returns the RS256 private key for token signing.
func (k *Keystore) SigningKey() (*rsa.PrivateKey, error) {
	if k.privateKey == nil {
		return nil, ErrNoSigningKey
	}
	return k.privateKey, nil
}

// VerificationKey returns the RS256 public key for token verification.
func (k *Keystore) VerificationKey() (*rsa.PublicKey, error) {
	if k.publicKey == nil {
		return nil, ErrNoSigningKey
	}
	return k.publicKey, nil
}

// EncryptSecret encrypts application secrets (SSO client secrets, webhook
// signing secrets) with the general encryption key.
func (k *Keystore) EncryptSecret(plaintext string) (string, error) {
	return seal(k.secretAEAD, plaintext)
}

// DecryptSecret reverses EncryptSecret.
func (k *Keystore) DecryptSecret(ciphertext string) (string, error) {
	return open(k.secretAEAD, ciphertext)
}

// EncryptCredential encrypts external-agent credentials with the dedicated
// credential key. Plaintext credentials are only held in memory inside the
// invocation worker.
func (k *Keystore) EncryptCredential(plaintext string) (string, error) {
	return seal(k.credentialAEAD, plaintext)
}

// DecryptCredential reverses EncryptCredential.
func (k *Keystore) DecryptCredential(ciphertext string) (string, error) {
	return open(k.credentialAEAD, ciphertext)
}

func seal(aead cipher.AEAD, plaintext string) (string, error) {
	if aead == nil {
		return "", errors.New("keystore: encryption key not configured")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func open(aead cipher.AEAD, ciphertext string) (string, error) {
	if aead == nil {
		return "", errors.New("keystore: encryption key not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
