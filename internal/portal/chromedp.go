package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeConfig holds settings for chromedp-backed sessions.
type ChromeConfig struct {
	Headless bool
	// ActionTimeout bounds individual actions (navigate, type, click).
	ActionTimeout time.Duration
}

// ChromeSession implements Session on top of a dedicated headless Chrome
// instance. Each session owns its own browser process so concurrent jobs
// never share cookies or page state.
type ChromeSession struct {
	ctx           context.Context
	cancel        context.CancelFunc
	allocCancel   context.CancelFunc
	actionTimeout time.Duration
}

// NewChromeSession launches a browser and returns a ready session. The
// parent ctx bounds the whole session lifetime.
func NewChromeSession(ctx context.Context, cfg ChromeConfig) (*ChromeSession, error) {
	timeout := cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, cancel := chromedp.NewContext(allocCtx)

	// Run an empty task list to force the browser to start now, so a
	// broken Chrome install fails the job up front instead of on the
	// first navigation.
	if err := chromedp.Run(taskCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromeSession{
		ctx:           taskCtx,
		cancel:        cancel,
		allocCancel:   allocCancel,
		actionTimeout: timeout,
	}, nil
}

// ChromeDialer returns a Dialer that opens a ChromeSession per job.
func ChromeDialer(cfg ChromeConfig) Dialer {
	return func(ctx context.Context) (Session, error) {
		return NewChromeSession(ctx, cfg)
	}
}

func (s *ChromeSession) run(timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(tctx, actions...)
}

func (s *ChromeSession) Navigate(url string) error {
	if err := s.run(s.actionTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *ChromeSession) Type(selector, value string) error {
	if err := s.run(s.actionTimeout, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

func (s *ChromeSession) Click(selector string) error {
	err := s.run(s.actionTimeout, chromedp.Click(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}

	// chromedp blocks until the node is clickable, so a deadline while
	// the node exists means "present but not interactable".
	if errors.Is(err, context.DeadlineExceeded) {
		if n, cerr := s.Count(selector); cerr == nil && n > 0 {
			return fmt.Errorf("%w: %s", ErrNotInteractable, selector)
		}
	}
	return fmt.Errorf("failed to click %q: %w", selector, err)
}

func (s *ChromeSession) Select(selector, value string) error {
	if err := s.run(s.actionTimeout, chromedp.SetValue(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to select %q on %q: %w", value, selector, err)
	}
	return nil
}

func (s *ChromeSession) UploadFile(selector, path string) error {
	if err := s.run(s.actionTimeout, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to attach %s to %q: %w", path, selector, err)
	}
	return nil
}

func (s *ChromeSession) WaitVisible(selector string, timeout time.Duration) error {
	if err := s.run(timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

func (s *ChromeSession) WaitEnabled(selector string, timeout time.Duration) error {
	if err := s.run(timeout, chromedp.WaitEnabled(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not enabled within %s: %w", selector, timeout, err)
	}
	return nil
}

func (s *ChromeSession) Text(selector string) (string, error) {
	var out string
	if err := s.run(s.actionTimeout, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return out, nil
}

func (s *ChromeSession) Count(selector string) (int, error) {
	var n int
	expr := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)
	if err := s.run(s.actionTimeout, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	return n, nil
}

func (s *ChromeSession) Close() error {
	s.cancel()
	s.allocCancel()
	return nil
}
