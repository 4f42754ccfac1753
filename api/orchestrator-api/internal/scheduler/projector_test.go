// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func weekdayWindow() Window {
	return Window{Start: "09:00", End: "18:00", Days: []int{1, 2, 3, 4, 5}}
}

// ===== business-hours projection =====

func TestProject_InsideWindowUnchanged(t *testing.T) {
	loc := kolkata(t)
	// Wednesday 2026-01-07 11:30 IST.
	at := time.Date(2026, 1, 7, 11, 30, 0, 0, loc)

	got, err := Project(at, loc, weekdayWindow())
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}

func TestProject_BeforeOpeningMovesToSameDayOpen(t *testing.T) {
	loc := kolkata(t)
	// Wednesday 07:15 → Wednesday 09:00.
	at := time.Date(2026, 1, 7, 7, 15, 0, 0, loc)

	got, err := Project(at, loc, weekdayWindow())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 7, 9, 0, 0, 0, loc)))
}

func TestProject_AfterCloseMovesToNextDayOpen(t *testing.T) {
	loc := kolkata(t)
	// Wednesday 19:05 → Thursday 09:00.
	at := time.Date(2026, 1, 7, 19, 5, 0, 0, loc)

	got, err := Project(at, loc, weekdayWindow())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 8, 9, 0, 0, 0, loc)))
}

func TestProject_WeekendMovesToMonday(t *testing.T) {
	loc := kolkata(t)
	// Saturday 2026-01-10 11:00 → Monday 2026-01-12 09:00.
	at := time.Date(2026, 1, 10, 11, 0, 0, 0, loc)

	got, err := Project(at, loc, weekdayWindow())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 12, 9, 0, 0, 0, loc)))
}

func TestProject_FridayEveningSkipsWeekend(t *testing.T) {
	loc := kolkata(t)
	// Friday 2026-01-09 18:00 (close is exclusive) → Monday 09:00.
	at := time.Date(2026, 1, 9, 18, 0, 0, 0, loc)

	got, err := Project(at, loc, weekdayWindow())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 12, 9, 0, 0, 0, loc)))
}

func TestProject_ExactOpeningIsInside(t *testing.T) {
	loc := kolkata(t)
	at := time.Date(2026, 1, 7, 9, 0, 0, 0, loc)

	got, err := Project(at, loc, weekdayWindow())
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}

func TestProject_SingleDayWindow(t *testing.T) {
	loc := kolkata(t)
	w := Window{Start: "10:00", End: "12:00", Days: []int{3}} // Wednesdays only
	// Thursday → next Wednesday.
	at := time.Date(2026, 1, 8, 11, 0, 0, 0, loc)

	got, err := Project(at, loc, w)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 14, 10, 0, 0, 0, loc)))
}

func TestProject_ProjectionIsIdempotent(t *testing.T) {
	loc := kolkata(t)
	instants := []time.Time{
		time.Date(2026, 1, 7, 7, 15, 0, 0, loc),
		time.Date(2026, 1, 10, 11, 0, 0, 0, loc),
		time.Date(2026, 1, 9, 23, 59, 0, 0, loc),
	}
	for _, at := range instants {
		once, err := Project(at, loc, weekdayWindow())
		require.NoError(t, err)
		twice, err := Project(once, loc, weekdayWindow())
		require.NoError(t, err)
		assert.True(t, twice.Equal(once), "instant %s", at)
	}
}

// ===== validation =====

func TestProject_RejectsInvertedWindow(t *testing.T) {
	loc := kolkata(t)
	_, err := Project(time.Now(), loc, Window{Start: "18:00", End: "09:00", Days: []int{1}})
	require.Error(t, err)
	assert.True(t, commons.IsKind(err, commons.KindValidation))
}

func TestProject_RejectsBadClockAndEmptyDays(t *testing.T) {
	loc := kolkata(t)

	_, err := Project(time.Now(), loc, Window{Start: "25:00", End: "26:00", Days: []int{1}})
	require.Error(t, err)

	_, err = Project(time.Now(), loc, Window{Start: "09:00", End: "18:00", Days: nil})
	require.Error(t, err)
	assert.True(t, commons.IsKind(err, commons.KindValidation))
}

func TestLoadLocation(t *testing.T) {
	_, err := LoadLocation("Asia/Kolkata")
	assert.NoError(t, err)

	_, err = LoadLocation("Mars/Olympus")
	require.Error(t, err)
	assert.True(t, commons.IsKind(err, commons.KindValidation))
}
