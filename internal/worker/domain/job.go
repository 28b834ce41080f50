package domain

import "time"

// Image is one entry in a job's ordered upload sequence. Order is
// significant: images are pushed to the portal in exactly this order.
type Image struct {
	StoragePath string `json:"storage_path"`
	DisplayName string `json:"display_name"`
}

// Job represents a claimed job with everything the upload worker needs.
// Portal credentials are forwarded to the browser session verbatim; the
// worker never inspects them.
type Job struct {
	JobID           string
	UserID          string
	PortalUsername  string
	PortalPassword  string
	Images          []Image
	DisplayTarget   string
	IntervalMinutes int
	Cycle           bool
	Status          string
	CreatedAt       time.Time
}
