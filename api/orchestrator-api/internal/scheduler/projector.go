// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_scheduler turns scheduled-call rows into dialed calls:
// a Redis delayed queue feeds a poll loop that claims due jobs, projects
// them into their business-hours window and hands them to the outbound
// controller. Failed call outcomes come back in through retry ladders.
package internal_scheduler

import (
	"fmt"
	"time"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Window is a weekly calling window: a daily clock range on a set of ISO
// weekdays (Monday=1 .. Sunday=7), interpreted in the job's timezone.
type Window struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
	Days  []int
}

// LoadLocation validates an IANA timezone name.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, commons.NewErrorf(commons.KindValidation, "unknown timezone %q", name)
	}
	return loc, nil
}

// Project resolves t into the window: t itself when it already falls
// inside, otherwise the next window opening. The search is bounded; a
// window with no valid days is a validation error.
func Project(t time.Time, loc *time.Location, w Window) (time.Time, error) {
	startH, startM, err := parseClock(w.Start)
	if err != nil {
		return time.Time{}, err
	}
	endH, endM, err := parseClock(w.End)
	if err != nil {
		return time.Time{}, err
	}
	if endH*60+endM <= startH*60+startM {
		return time.Time{}, commons.NewErrorf(commons.KindValidation,
			"business hours end %s is not after start %s", w.End, w.Start)
	}
	if len(w.Days) == 0 {
		return time.Time{}, commons.NewError(commons.KindValidation, "no business days configured")
	}

	local := t.In(loc)
	for day := 0; day <= 7; day++ {
		candidate := local.AddDate(0, 0, day)
		if !dayAllowed(candidate, w.Days) {
			continue
		}

		open := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
			startH, startM, 0, 0, loc)
		close := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
			endH, endM, 0, 0, loc)

		if day == 0 {
			if !local.Before(open) && local.Before(close) {
				return local, nil
			}
			if local.Before(open) {
				return open, nil
			}
			// Past today's close; keep walking.
			continue
		}
		return open, nil
	}
	return time.Time{}, commons.NewError(commons.KindValidation, "no business day within a week")
}

func dayAllowed(t time.Time, days []int) bool {
	iso := int(t.Weekday())
	if iso == 0 {
		iso = 7 // Go's Sunday
	}
	for _, d := range days {
		if d == iso {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, commons.NewErrorf(commons.KindValidation, "invalid clock time %q", s)
	}
	return h, m, nil
}
