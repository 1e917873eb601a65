package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Rod is a Browser backed by go-rod.
type Rod struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   *zap.Logger

	mu        sync.Mutex
	navWait   func()
	navCancel func()
}

// OpenRod launches Chrome through rod's launcher and opens a blank tab.
func OpenRod(ctx context.Context, opts Options) (*Rod, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: rod launch failed: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("browser: rod connect failed: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("browser: rod open page failed: %w", err)
	}

	return &Rod{launcher: l, browser: b, page: page, logger: opts.Logger}, nil
}

// Navigate loads url and waits for the load event.
func (r *Rod) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitForAny waits until an element matches any of selectors.
func (r *Rod) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) error {
	sel := strings.Join(selectors, ",")
	p := r.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	if _, err := p.Element(sel); err != nil {
		return waitErr("wait for "+sel, err)
	}
	return nil
}

func (r *Rod) takeNavigation() (func(), func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wait, cancel := r.navWait, r.navCancel
	r.navWait, r.navCancel = nil, nil
	return wait, cancel
}

// WaitForNavigation waits for the navigation armed by the last Click, then for the page load.
func (r *Rod) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if wait, cancel := r.takeNavigation(); wait != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			wait()
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
			cancel()
		case <-timer.C:
			cancel()
			<-done
			return fmt.Errorf("wait for navigation: %w", ErrTimeout)
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("wait for document ready: %w", ErrTimeout)
	}
	p := r.page.Context(ctx).Timeout(remaining)
	defer p.CancelTimeout()
	if err := p.WaitLoad(); err != nil {
		return waitErr("wait for document ready", err)
	}
	return nil
}

// Focus focuses the first element matching selector.
func (r *Rod) Focus(ctx context.Context, selector string) error {
	el, err := r.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	return nil
}

// Type inserts text into the focused element.
func (r *Rod) Type(ctx context.Context, text string) error {
	if err := r.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	return nil
}

// Click starts listening for the resulting navigation before the click is
// dispatched; WaitForNavigation consumes the listener.
func (r *Rod) Click(ctx context.Context, selector string) error {
	el, err := r.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}

	navPage, cancel := r.page.WithCancel()
	wait := navPage.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)

	r.mu.Lock()
	if r.navCancel != nil {
		r.navCancel()
	}
	r.navWait, r.navCancel = wait, cancel
	r.mu.Unlock()

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Evaluate runs expression in the page and decodes its result into out.
func (r *Rod) Evaluate(ctx context.Context, expression string, out any) error {
	obj, err := r.page.Context(ctx).Eval(`() => (` + expression + `)`)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := obj.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("evaluate: decode result: %w", err)
	}
	return nil
}

// Close shuts the browser and removes its profile directory.
func (r *Rod) Close() error {
	if _, cancel := r.takeNavigation(); cancel != nil {
		cancel()
	}
	err := r.browser.Close()
	if err != nil {
		r.logger.Debug("rod close", zap.Error(err))
		r.launcher.Kill()
	}
	r.launcher.Cleanup()
	return err
}
