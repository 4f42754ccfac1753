// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "strings"

// Ptr returns a pointer to v. Convenience for optional struct fields.
func Ptr[T any](v T) *T {
	return &v
}

// IsEmpty reports whether s is empty or whitespace-only.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Option is a loose bag of per-component settings resolved at runtime.
type Option map[string]interface{}

// GetString returns the string value for key and whether it was present.
func (o Option) GetString(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns the int value for key and whether it was present. JSON
// decoded numbers arrive as float64 and are accepted too.
func (o Option) GetInt(key string) (int, bool) {
	switch v := o[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetBool returns the bool value for key and whether it was present.
func (o Option) GetBool(key string) (bool, bool) {
	v, ok := o[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
