// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_sentence_assembler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentenceAssembler_SplitsOnTerminators(t *testing.T) {
	sa := NewSentenceAssembler(0)

	var got []string
	got = append(got, sa.Push("Hello there. How are ")...)
	got = append(got, sa.Push("you? I am fine! ")...)

	assert.Equal(t, []string{"Hello there.", "How are you?", "I am fine!"}, got)
}

func TestSentenceAssembler_TokenDeltasSplitMidSentence(t *testing.T) {
	sa := NewSentenceAssembler(0)

	deltas := []string{"I ", "can ", "help", ". ", "Wh", "at do you nee", "d? "}
	var got []string
	for _, d := range deltas {
		got = append(got, sa.Push(d)...)
	}

	assert.Equal(t, []string{"I can help.", "What do you need?"}, got)
}

func TestSentenceAssembler_FlushReturnsRemainder(t *testing.T) {
	sa := NewSentenceAssembler(0)

	got := sa.Push("Complete. And a trailing clause")
	assert.Equal(t, []string{"Complete."}, got)

	rest, ok := sa.Flush()
	require.True(t, ok)
	assert.Equal(t, "And a trailing clause", rest)

	_, ok = sa.Flush()
	assert.False(t, ok)
}

func TestSentenceAssembler_LongClauseFlushesWithoutPunctuation(t *testing.T) {
	sa := NewSentenceAssembler(60)

	long := "this clause keeps going and going without any punctuation at all and never stops "
	got := sa.Push(long)
	require.NotEmpty(t, got, "clauses past the length cap must flush")
	for _, s := range got {
		assert.NotEmpty(t, s)
	}
}

func TestSentenceAssembler_DecimalNumberDoesNotSplit(t *testing.T) {
	sa := NewSentenceAssembler(0)

	// A period not followed by whitespace is not a terminator.
	got := sa.Push("The price is 3.50 dollars. ")
	assert.Equal(t, []string{"The price is 3.50 dollars."}, got)
}

func TestSentenceAssembler_EmptyAndWhitespaceOnly(t *testing.T) {
	sa := NewSentenceAssembler(0)
	assert.Empty(t, sa.Push(""))
	assert.Empty(t, sa.Push("   "))
	_, ok := sa.Flush()
	assert.False(t, ok)
}
