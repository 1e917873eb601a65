package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Chrome is a Browser backed by chromedp.
type Chrome struct {
	ctx         context.Context // tab context; every Run derives from it
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu     sync.Mutex
	loaded chan struct{} // closed on the next load event after a Click
}

// OpenChrome starts a Chrome process through chromedp's exec allocator.
func OpenChrome(ctx context.Context, opts Options) (*Chrome, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run must use the tab context itself, otherwise the browser
	// would be tied to whatever derived context came first.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("browser: chromedp start failed: %w", err)
	}

	c := &Chrome{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      opts.Logger,
	}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			c.signalLoaded()
		}
	})

	return c, nil
}

func (c *Chrome) signalLoaded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded != nil {
		close(c.loaded)
		c.loaded = nil
	}
}

// armNavigation returns a channel closed by the next load event.
func (c *Chrome) armNavigation() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.loaded = ch
	return ch
}

func (c *Chrome) pendingNavigation() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// run executes actions on the tab, bounded by timeout (if positive) and by ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(c.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(c.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url in the tab and waits for the load event.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitForAny waits until an element matches any of selectors.
func (c *Chrome) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) error {
	sel := strings.Join(selectors, ",")
	if err := c.run(ctx, timeout, chromedp.WaitReady(sel, chromedp.ByQuery)); err != nil {
		return waitErr("wait for "+sel, err)
	}
	return nil
}

// WaitForNavigation waits for the load armed by the last Click, then for document.readyState "complete".
func (c *Chrome) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if pending := c.pendingNavigation(); pending != nil {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-pending:
		case <-timer.C:
			return fmt.Errorf("wait for navigation: %w", ErrTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("wait for document ready: %w", ErrTimeout)
	}
	var ready bool
	err := c.run(ctx, remaining, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(100*time.Millisecond),
		chromedp.WithPollingTimeout(0),
	))
	if err != nil {
		return waitErr("wait for document ready", err)
	}
	return nil
}

// Focus focuses the first element matching selector.
func (c *Chrome) Focus(ctx context.Context, selector string) error {
	if err := c.run(ctx, 0, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	return nil
}

// Type sends text as key events to the focused element.
func (c *Chrome) Type(ctx context.Context, text string) error {
	if err := c.run(ctx, 0, chromedp.KeyEvent(text)); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	return nil
}

// Click arms the navigation waiter before dispatching, so a fast page load
// cannot slip past WaitForNavigation.
func (c *Chrome) Click(ctx context.Context, selector string) error {
	c.armNavigation()
	if err := c.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Evaluate runs expression in the page and decodes its result into out.
func (c *Chrome) Evaluate(ctx context.Context, expression string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	if err := c.run(ctx, 0, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Close shuts the tab and the Chrome process.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	c.allocCancel()
	if err != nil {
		c.logger.Debug("chromedp cancel", zap.Error(err))
	}
	return err
}
