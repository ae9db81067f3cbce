package models

import "strings"

// JobStatus is the lifecycle state of a background job
type JobStatus string

const (
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobCanceled  JobStatus = "CANCELED"
)

// Terminal reports whether no further transition is allowed from s
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCanceled
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	return s == JobRunning || s.Terminal()
}

// Job is one ledger record
type Job struct {
	ID      int64     `json:"id"`
	Message string    `json:"message"`
	Status  JobStatus `json:"status"`
}

// Device is a registered reader with its preferred formats and tag filter
type Device struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	UID             string `json:"uid"`
	Formats         string `json:"formats"`           // comma-separated, most preferred first
	BookTagsFilters string `json:"book_tags_filters"` // same grammar as tag search
}

// FormatList returns the device formats upper-cased
func (d *Device) FormatList() []string {
	formats := SplitAggregate(d.Formats, FormatSeparator)
	for i, f := range formats {
		formats[i] = strings.ToUpper(f)
	}
	return formats
}
