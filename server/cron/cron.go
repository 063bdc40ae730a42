package cron

import (
	"time"

	"github.com/go-co-op/gocron"
)

// NewCronScheduler returns a scheduler running in timeZone, falling back to UTC
// if the zone can't be loaded
func NewCronScheduler(timeZone string) *gocron.Scheduler {
	location, err := time.LoadLocation(timeZone)
	if err != nil {
		location = time.UTC
	}

	scheduler := gocron.NewScheduler(location)
	scheduler.TagsUnique()

	return scheduler
}
