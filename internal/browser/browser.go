// Package browser drives a headless Chrome instance for scraping the schedule site.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when a bounded wait expires.
var ErrTimeout = errors.New("browser: wait timed out")

// Browser is the page-level capability the navigator and extractor need.
// Implementations drive a single tab; calls must not overlap.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	// WaitForAny blocks until an element matching any selector exists.
	WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) error
	// WaitForNavigation blocks until the navigation triggered by the last Click
	// has loaded, or until the current document is ready when nothing is pending.
	WaitForNavigation(ctx context.Context, timeout time.Duration) error
	Focus(ctx context.Context, selector string) error
	// Type sends text to the focused element.
	Type(ctx context.Context, text string) error
	Click(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression and decodes its JSON value into out.
	Evaluate(ctx context.Context, expression string, out any) error
	Close() error
}

// Options configures a browser launch.
type Options struct {
	Headless bool
	ExecPath string // Chrome binary; empty means auto-detect
	Logger   *zap.Logger
}

// Open launches the named driver: "chromedp" or "rod".
func Open(ctx context.Context, driver string, opts Options) (Browser, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch driver {
	case "", "chromedp":
		return OpenChrome(ctx, opts)
	case "rod":
		return OpenRod(ctx, opts)
	default:
		return nil, fmt.Errorf("browser: unknown driver %q", driver)
	}
}

// waitErr maps context expiry onto ErrTimeout so callers can tell a slow page
// from a broken one.
func waitErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Quote returns s as a JavaScript string literal for use in page scripts.
func Quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// encoding a string cannot fail
		panic(fmt.Sprintf("browser: quote %q: %v", s, err))
	}
	return string(b)
}
