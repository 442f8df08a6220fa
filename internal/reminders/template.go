package reminders

import (
	"regexp"
	"strings"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
)

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z]+\}`)

// RenderTemplate substitutes the named placeholders a business owner can use
// in reminder templates. Placeholders we don't recognize are removed rather
// than sent to the customer verbatim.
func RenderTemplate(template string, job *jobs.Job, businessName string, loc *time.Location) string {
	values := map[string]string{
		"{clientName}":   job.CustomerName,
		"{serviceType}":  job.ServiceType,
		"{date}":         friendlyDate(job, loc),
		"{time}":         friendlyTime(job, loc),
		"{location}":     job.Location,
		"{businessName}": businessName,
	}
	out := template
	for placeholder, value := range values {
		out = strings.ReplaceAll(out, placeholder, value)
	}
	out = placeholderPattern.ReplaceAllString(out, "")
	return strings.Join(strings.Fields(out), " ")
}

func friendlyDate(job *jobs.Job, loc *time.Location) string {
	start, err := job.StartTime(loc)
	if err != nil {
		return job.ScheduledDate
	}
	return start.Format("Monday, 2 January")
}

func friendlyTime(job *jobs.Job, loc *time.Location) string {
	start, err := job.StartTime(loc)
	if err != nil {
		return job.ScheduledTime
	}
	return start.Format("3:04 PM")
}
