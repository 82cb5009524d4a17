package schedule

import (
	"context"
	"time"
)

const (
	// MaxAlternatives caps how many alternative start times a conflict
	// response carries.
	MaxAlternatives = 3

	slotStep      = 15 * time.Minute
	sameDayWindow = 12 * time.Hour
)

// Alternatives proposes up to MaxAlternatives free start times of equal
// duration for a conflicting request, in preference order:
//
//  1. the next free slot after the requested start on the same day,
//  2. the same time one day later,
//  3. the next free slot on the following business day.
//
// Every returned time is verified free against the store. The slice may be
// empty when the calendar is saturated; the caller must then fail hard
// rather than return an empty conflict.
func Alternatives(ctx context.Context, store Store, principalID string, start time.Time, duration time.Duration) ([]time.Time, error) {
	var out []time.Time

	add := func(t time.Time) error {
		if len(out) >= MaxAlternatives {
			return nil
		}
		for _, existing := range out {
			if existing.Equal(t) {
				return nil
			}
		}
		free, err := isFree(ctx, store, principalID, t, duration)
		if err != nil {
			return err
		}
		if free {
			out = append(out, t)
		}
		return nil
	}

	next, found, err := nextFreeSlot(ctx, store, principalID, start.Add(slotStep), duration, start.Add(sameDayWindow))
	if err != nil {
		return nil, err
	}
	if found {
		if err := add(next); err != nil {
			return nil, err
		}
	}

	if err := add(start.AddDate(0, 0, 1)); err != nil {
		return nil, err
	}

	nextDay := nextBusinessDay(start)
	dayStart := time.Date(nextDay.Year(), nextDay.Month(), nextDay.Day(),
		start.Hour(), start.Minute(), 0, 0, start.Location())
	next, found, err = nextFreeSlot(ctx, store, principalID, dayStart, duration, dayStart.Add(sameDayWindow))
	if err != nil {
		return nil, err
	}
	if found {
		if err := add(next); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func isFree(ctx context.Context, store Store, principalID string, start time.Time, duration time.Duration) (bool, error) {
	hits, err := store.Between(ctx, principalID, start, start.Add(duration))
	if err != nil {
		return false, err
	}
	return len(hits) == 0, nil
}

// nextFreeSlot scans forward in slotStep increments until a free range of
// the requested duration is found or the horizon is reached.
func nextFreeSlot(ctx context.Context, store Store, principalID string, from time.Time, duration time.Duration, horizon time.Time) (time.Time, bool, error) {
	for t := from; t.Before(horizon); t = t.Add(slotStep) {
		free, err := isFree(ctx, store, principalID, t, duration)
		if err != nil {
			return time.Time{}, false, err
		}
		if free {
			return t, true, nil
		}
	}
	return time.Time{}, false, nil
}

func nextBusinessDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
