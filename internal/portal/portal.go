// Package portal abstracts the browser automation surface the upload
// worker drives. The worker only depends on the Session interface; the
// chromedp-backed implementation lives in chromedp.go.
package portal

import (
	"context"
	"errors"
	"time"
)

// ErrNotInteractable reports that a control exists in the page but could
// not be interacted with yet (covered by an overlay, still disabled,
// mid-animation). It is the only click failure the worker retries.
var ErrNotInteractable = errors.New("control present but not interactable")

// Session is one live browser session against the portal. A session
// belongs to exactly one job and is closed when the job terminates.
//
// Bounded waits take an explicit timeout; the other operations are
// bounded by the session's own lifetime.
type Session interface {
	// Navigate loads the given URL and waits for the load event.
	Navigate(url string) error

	// Type writes value into the input matched by selector.
	Type(selector, value string) error

	// Click clicks the element matched by selector. Returns an error
	// wrapping ErrNotInteractable when the element exists but cannot be
	// clicked yet.
	Click(selector string) error

	// Select sets the value of the <select> matched by selector.
	Select(selector, value string) error

	// UploadFile attaches a local file to the file input matched by
	// selector.
	UploadFile(selector, path string) error

	// WaitVisible blocks until the element is visible or the timeout
	// elapses.
	WaitVisible(selector string, timeout time.Duration) error

	// WaitEnabled blocks until the element is enabled or the timeout
	// elapses.
	WaitEnabled(selector string, timeout time.Duration) error

	// Text returns the visible text of the first element matched by
	// selector.
	Text(selector string) (string, error)

	// Count returns how many elements currently match selector.
	Count(selector string) (int, error)

	// Close tears down the browser session. Safe to call once per
	// session.
	Close() error
}

// Dialer opens a fresh Session. The worker calls it once per claimed job.
type Dialer func(ctx context.Context) (Session, error)
