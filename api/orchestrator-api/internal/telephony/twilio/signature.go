// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// SignBody computes the webhook signature: hex HMAC-SHA256 over the raw
// request body with the per-account webhook secret.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time. A mismatch
// is a Validation error; callers map it to 401.
func VerifySignature(secret string, body []byte, signature string) error {
	expected := SignBody(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return commons.NewError(commons.KindValidation, "webhook signature mismatch")
	}
	return nil
}
