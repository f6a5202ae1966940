package interval

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saiset-co/sai-filecache/types"
)

// CronPolicy expires entries at the next activation of a cron schedule after
// the write time. Standard 5-field expressions are accepted, along with the
// @hourly/@daily/@weekly/@monthly descriptors.
type CronPolicy struct {
	spec     string
	schedule cron.Schedule
	location *time.Location
}

func NewCron(spec string, loc *time.Location) (types.IntervalPolicy, error) {
	if loc == nil {
		loc = time.UTC
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, types.Errorf(types.ErrIntervalSpecInvalid, "spec %q: %s", spec, err)
	}

	return &CronPolicy{
		spec:     spec,
		schedule: schedule,
		location: loc,
	}, nil
}

func (p *CronPolicy) Deadline(createdAt time.Time) time.Time {
	return p.schedule.Next(createdAt.In(p.location))
}

func (p *CronPolicy) Spec() string {
	return p.spec
}
