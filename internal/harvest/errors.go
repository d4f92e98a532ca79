package harvest

import "errors"

var (
	// ErrOrdering is returned when a job's resume watermark already lies
	// beyond its configured end of range. The job refuses to start and no
	// request is sent to the provider.
	ErrOrdering = errors.New("resume watermark is beyond the end of the harvest range")

	// ErrNoRange is returned when a plan has no usable lower bound: neither
	// an explicit start nor an earliest timestamp on the service.
	ErrNoRange = errors.New("no start time available for harvest range")

	// ErrServiceBusy is returned when a harvest is requested for a service
	// that already has one running. Two engines on the same job would race
	// the watermark.
	ErrServiceBusy = errors.New("a harvest is already running for this service")
)
