// Package interval implements freshness policies for cached entries.
//
// A policy maps the write time of an entry to the moment it stops being
// fresh. Policies are deterministic: the same write time always produces the
// same deadline, so a lookup either consistently sees a fresh entry or
// consistently sees an expired one.
package interval

import (
	"time"

	"github.com/saiset-co/sai-filecache/types"
)

// FixedPolicy expires entries a constant duration after they were written.
type FixedPolicy struct {
	interval time.Duration
}

func NewFixed(interval time.Duration) (types.IntervalPolicy, error) {
	if interval <= 0 {
		return nil, types.Errorf(types.ErrIntervalInvalid, "interval: %s", interval)
	}
	return &FixedPolicy{interval: interval}, nil
}

func (p *FixedPolicy) Deadline(createdAt time.Time) time.Time {
	return createdAt.Add(p.interval)
}

// PolicyFunc adapts an arbitrary deadline function into a policy. The
// function must be deterministic over createdAt.
type PolicyFunc func(createdAt time.Time) time.Time

func (f PolicyFunc) Deadline(createdAt time.Time) time.Time {
	return f(createdAt)
}

// neverPolicy marks entries that do not expire.
type neverPolicy struct{}

func (neverPolicy) Deadline(time.Time) time.Time {
	return time.Time{}
}

func Never() types.IntervalPolicy {
	return neverPolicy{}
}

// Parse builds a policy from a configuration string: a Go duration ("30m",
// "24h") yields a fixed policy, anything else is tried as a cron expression.
func Parse(expr string, loc *time.Location) (types.IntervalPolicy, error) {
	if expr == "" {
		return nil, types.Errorf(types.ErrIntervalSpecInvalid, "empty expression")
	}

	if d, err := time.ParseDuration(expr); err == nil {
		return NewFixed(d)
	}

	return NewCron(expr, loc)
}

func mustFixed(interval time.Duration) types.IntervalPolicy {
	p, err := NewFixed(interval)
	if err != nil {
		panic(err)
	}
	return p
}

func mustCron(spec string) types.IntervalPolicy {
	p, err := NewCron(spec, time.UTC)
	if err != nil {
		panic(err)
	}
	return p
}

// Preset policies covering the common refresh cadences.
func Every5Minutes() types.IntervalPolicy  { return mustFixed(5 * time.Minute) }
func Every10Minutes() types.IntervalPolicy { return mustFixed(10 * time.Minute) }
func Every30Minutes() types.IntervalPolicy { return mustFixed(30 * time.Minute) }
func Every1Hour() types.IntervalPolicy     { return mustFixed(time.Hour) }
func Every6Hours() types.IntervalPolicy    { return mustFixed(6 * time.Hour) }
func Every12Hours() types.IntervalPolicy   { return mustFixed(12 * time.Hour) }
func Every24Hours() types.IntervalPolicy   { return mustFixed(24 * time.Hour) }

// Calendar presets: the deadline is the next matching wall-clock moment
// after the write time.
func NextDayAt8AM() types.IntervalPolicy    { return mustCron("0 8 * * *") }
func NextMonday() types.IntervalPolicy      { return mustCron("0 0 * * 1") }
func FirstDayOfMonth() types.IntervalPolicy { return mustCron("0 0 1 * *") }
func FirstDayOfYear() types.IntervalPolicy  { return mustCron("0 0 1 1 *") }
