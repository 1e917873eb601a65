// Package browsertest provides a scripted in-memory browser.Browser for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beekhof/shift-sync/internal/browser"
)

var _ browser.Browser = (*Fake)(nil)

// Fake records every call and delegates behaviour to optional hooks.
// Evaluate results pass through JSON, as they would coming out of Chrome.
type Fake struct {
	NavigateFunc          func(url string) error
	WaitForAnyFunc        func(selectors []string) error
	WaitForNavigationFunc func() error
	FocusFunc             func(selector string) error
	ClickFunc             func(selector string) error
	EvaluateFunc          func(expression string) (any, error)

	// StallFunc reports whether a call should hang until its context ends,
	// like a page that never responds. op is "navigate" or "evaluate" and arg
	// the URL or expression.
	StallFunc func(op, arg string) bool

	mu      sync.Mutex
	calls   []string
	focused string
	typed   map[string]string
	closed  bool
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{typed: make(map[string]string)}
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls, e.g. "click #submit".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix returns the recorded calls that start with prefix.
func (f *Fake) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Typed returns the text typed into selector since the last Reset.
func (f *Fake) Typed(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[selector]
}

// ResetTyped clears all typed text, as a page load would.
func (f *Fake) ResetTyped() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = make(map[string]string)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) stall(ctx context.Context, op, arg string) bool {
	if f.StallFunc == nil || !f.StallFunc(op, arg) {
		return false
	}
	<-ctx.Done()
	return true
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.record("navigate %s", url)
	if f.stall(ctx, "navigate", url) {
		return ctx.Err()
	}
	if f.NavigateFunc != nil {
		return f.NavigateFunc(url)
	}
	return nil
}

func (f *Fake) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) error {
	f.record("wait %s", strings.Join(selectors, ","))
	if f.WaitForAnyFunc != nil {
		return f.WaitForAnyFunc(selectors)
	}
	return ctx.Err()
}

func (f *Fake) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	f.record("wait-navigation")
	if f.WaitForNavigationFunc != nil {
		return f.WaitForNavigationFunc()
	}
	return ctx.Err()
}

func (f *Fake) Focus(ctx context.Context, selector string) error {
	f.record("focus %s", selector)
	if f.FocusFunc != nil {
		if err := f.FocusFunc(selector); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.focused = selector
	f.mu.Unlock()
	return nil
}

func (f *Fake) Type(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "type "+f.focused)
	f.typed[f.focused] += text
	return nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	f.record("click %s", selector)
	if f.ClickFunc != nil {
		return f.ClickFunc(selector)
	}
	return nil
}

func (f *Fake) Evaluate(ctx context.Context, expression string, out any) error {
	f.record("evaluate")
	if f.stall(ctx, "evaluate", expression) {
		return ctx.Err()
	}
	if f.EvaluateFunc == nil {
		return nil
	}
	v, err := f.EvaluateFunc(expression)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
