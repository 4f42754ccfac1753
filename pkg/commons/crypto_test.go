// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretBox_RoundTrip(t *testing.T) {
	box, err := NewSecretBox("unit-test-secret")
	require.NoError(t, err)

	envelope, err := box.Encrypt("AC123:token456")
	require.NoError(t, err)

	// Envelope shape: iv:ct:tag, all hex.
	parts := strings.Split(envelope, ":")
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.NotEmpty(t, p)
	}

	plain, err := box.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, "AC123:token456", plain)
}

func TestSecretBox_UniqueIVs(t *testing.T) {
	box, _ := NewSecretBox("unit-test-secret")

	first, err := box.Encrypt("same-plaintext")
	require.NoError(t, err)
	second, err := box.Encrypt("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each encryption must use a fresh iv")
}

func TestSecretBox_WrongKeyFails(t *testing.T) {
	box, _ := NewSecretBox("secret-a")
	other, _ := NewSecretBox("secret-b")

	envelope, err := box.Encrypt("credentials")
	require.NoError(t, err)

	_, err = other.Decrypt(envelope)
	assert.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSecretBox_TamperedCiphertextFails(t *testing.T) {
	box, _ := NewSecretBox("unit-test-secret")
	envelope, err := box.Encrypt("credentials")
	require.NoError(t, err)

	parts := strings.Split(envelope, ":")
	// Flip one hex digit in the ciphertext section.
	ct := []byte(parts[1])
	if ct[0] == 'a' {
		ct[0] = 'b'
	} else {
		ct[0] = 'a'
	}
	parts[1] = string(ct)

	_, err = box.Decrypt(strings.Join(parts, ":"))
	assert.Error(t, err)
}

func TestSecretBox_MalformedEnvelope(t *testing.T) {
	box, _ := NewSecretBox("unit-test-secret")

	tests := []string{
		"",
		"only-one-part",
		"two:parts",
		"zz:zz:zz", // not hex
	}
	for _, envelope := range tests {
		t.Run(envelope, func(t *testing.T) {
			_, err := box.Decrypt(envelope)
			assert.Error(t, err)
		})
	}
}

func TestNewSecretBox_EmptySecret(t *testing.T) {
	_, err := NewSecretBox("   ")
	assert.Error(t, err)
}
