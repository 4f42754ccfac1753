// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretBox encrypts and decrypts per-phone provider credentials at rest
// using AES-256-GCM. The ciphertext envelope is "iv_hex:ct_hex:tag_hex" so
// rows are inspectable without being decryptable. The key is derived from a
// dedicated secret, never from the provider auth token itself.
type SecretBox struct {
	key [32]byte
}

// NewSecretBox derives a 256-bit key from the configured secret.
func NewSecretBox(secret string) (*SecretBox, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, NewError(KindValidation, "credential secret must not be empty")
	}
	return &SecretBox{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt seals plaintext and returns the iv:ct:tag hex envelope.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(ct),
		hex.EncodeToString(tag),
	), nil
}

// Decrypt opens an iv:ct:tag hex envelope produced by Encrypt.
func (b *SecretBox) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", NewError(KindValidation, "malformed credential envelope")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", NewError(KindValidation, "malformed credential iv")
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", NewError(KindValidation, "malformed credential ciphertext")
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", NewError(KindValidation, "malformed credential tag")
	}

	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", NewError(KindValidation, "malformed credential iv")
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", NewError(KindValidation, "credential envelope failed authentication")
	}
	return string(plaintext), nil
}
