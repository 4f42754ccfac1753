// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "regexp"

// e164Pattern matches E.164: a plus sign, a non-zero country-code digit,
// then up to 14 further digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether phone is a valid E.164 number. The orchestrator
// refuses any other representation.
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}
