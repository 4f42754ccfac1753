// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

var (
	idMu   sync.Mutex
	lastID uint64
)

// ID generates a time-sortable 64-bit identifier: 41 bits of millisecond
// timestamp followed by 22 bits of randomness. Monotonic within a process.
func ID() uint64 {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	entropy := uint64(binary.BigEndian.Uint32(buf[:])) & ((1 << 22) - 1)
	id := (uint64(time.Now().UnixMilli()) << 22) | entropy

	idMu.Lock()
	defer idMu.Unlock()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}
