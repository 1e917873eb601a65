// Package navigator logs into the schedule site and drives it to the schedule page.
//
// The site presents its login screens in no fixed order. The navigator
// classifies the page, submits whatever the page asks for, waits for the next
// page to settle and classifies again, until the schedule is showing.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beekhof/shift-sync/internal/browser"
	"github.com/beekhof/shift-sync/internal/screen"
)

var (
	// ErrNavigationFailed is returned when the schedule page is never reached.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrMissingSecurityAnswer is returned when the site asks a security
	// question with no configured answer.
	ErrMissingSecurityAnswer = errors.New("no answer configured for security question")
)

// AnswerFunc looks up the answer to a security question.
type AnswerFunc func(question string) (string, bool)

// Credentials are the secrets typed into the login screens.
type Credentials struct {
	PartnerID string
	Password  string
	Answer    AnswerFunc
}

// Options bounds the navigation.
type Options struct {
	SiteURL               string
	Selectors             screen.Selectors
	NavigationTimeout     time.Duration
	SelectorTimeout       time.Duration
	PollInterval          time.Duration
	MaxIndeterminatePolls int
	MaxTransitions        int
}

// Phase is the navigator's own progress through the login, as opposed to
// what the page shows.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseCredentialSubmitted
	PhasePasswordSubmitted
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseCredentialSubmitted:
		return "credential-submitted"
	case PhasePasswordSubmitted:
		return "password-submitted"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type action int

const (
	actWait action = iota
	actSubmitCredential
	actSubmitPassword
	actAnswerSecurity
	actFinish
)

// next is the transition table: what to do for the observed screen and which
// phase follows. The password is sent at most once per run.
func next(p Phase, s screen.State) (action, Phase) {
	switch s {
	case screen.OnSchedule:
		return actFinish, PhaseDone
	case screen.AwaitingCredential:
		if p == PhasePasswordSubmitted {
			return actSubmitCredential, p
		}
		return actSubmitCredential, PhaseCredentialSubmitted
	case screen.AwaitingPassword:
		if p == PhasePasswordSubmitted {
			return actWait, p
		}
		return actSubmitPassword, PhasePasswordSubmitted
	case screen.AwaitingSecurityAnswer:
		return actAnswerSecurity, p
	default:
		return actWait, p
	}
}

// Trace lists the screens seen during a run, in order.
type Trace []screen.State

func (t Trace) String() string {
	names := make([]string, len(t))
	for i, s := range t {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}

// Navigator drives one browser tab to the schedule page.
type Navigator struct {
	page       browser.Browser
	classifier *screen.Classifier
	creds      Credentials
	opts       Options
	logger     *zap.Logger
}

// New creates a Navigator.
func New(page browser.Browser, creds Credentials, opts Options, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		page:       page,
		classifier: screen.NewClassifier(opts.Selectors),
		creds:      creds,
		opts:       opts,
		logger:     logger,
	}
}

// Run opens the site and returns once the schedule page is showing.
// The returned Trace is valid even when an error is returned.
func (n *Navigator) Run(ctx context.Context) (Trace, error) {
	var trace Trace

	navCtx, cancel := boundedContext(ctx, n.opts.NavigationTimeout)
	err := n.page.Navigate(navCtx, n.opts.SiteURL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return trace, ctx.Err()
		}
		return trace, fmt.Errorf("%w: open %s: %v", ErrNavigationFailed, n.opts.SiteURL, err)
	}
	n.waitForMarkers(ctx)

	phase := PhaseStart
	indeterminate := 0
	transitions := 0

	for {
		if err := ctx.Err(); err != nil {
			return trace, err
		}

		snap := n.classify(ctx)
		trace = append(trace, snap.State)

		act, nextPhase := next(phase, snap.State)
		n.logger.Debug("classified page",
			zap.Stringer("screen", snap.State),
			zap.Stringer("phase", phase),
		)

		if act == actFinish {
			n.logger.Info("reached schedule page", zap.Int("screens", len(trace)))
			return trace, nil
		}

		if act == actWait {
			indeterminate++
			if indeterminate > n.opts.MaxIndeterminatePolls {
				return trace, fmt.Errorf("%w: no recognizable progress after %d polls (last screen: %s)",
					ErrNavigationFailed, n.opts.MaxIndeterminatePolls, snap.State)
			}
			if err := sleep(ctx, n.opts.PollInterval); err != nil {
				return trace, err
			}
			n.waitForMarkers(ctx)
			continue
		}

		transitions++
		if transitions > n.opts.MaxTransitions {
			return trace, fmt.Errorf("%w: gave up after %d submissions (last screen: %s)",
				ErrNavigationFailed, n.opts.MaxTransitions, snap.State)
		}

		dispatched, err := n.submit(ctx, act, snap)
		if err != nil {
			if errors.Is(err, ErrMissingSecurityAnswer) || ctx.Err() != nil {
				return trace, err
			}
			n.logger.Warn("submit failed",
				zap.Stringer("screen", snap.State),
				zap.Bool("clicked", dispatched),
				zap.Error(err),
			)
			if !dispatched {
				// Nothing reached the page; the field may have vanished under a navigation.
				indeterminate++
				if indeterminate > n.opts.MaxIndeterminatePolls {
					return trace, fmt.Errorf("%w: %v", ErrNavigationFailed, err)
				}
				n.settle(ctx)
				continue
			}
			// A failed click may still have reached the page; the submission counts.
		}

		indeterminate = 0
		phase = nextPhase
		n.settle(ctx)
	}
}

// submit fills the field the screen asks for and clicks submit. dispatched
// reports whether the click was attempted, after which the page may have
// received the value even if an error is returned.
func (n *Navigator) submit(ctx context.Context, act action, snap screen.Snapshot) (dispatched bool, err error) {
	sel := n.opts.Selectors

	var field, value string
	switch act {
	case actSubmitCredential:
		field, value = sel.Credential, n.creds.PartnerID
	case actSubmitPassword:
		field, value = sel.Password, n.creds.Password
	case actAnswerSecurity:
		answer, ok := "", false
		if n.creds.Answer != nil {
			answer, ok = n.creds.Answer(snap.Question)
		}
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrMissingSecurityAnswer, snap.Question)
		}
		field, value = sel.SecurityInput, answer
	default:
		return false, fmt.Errorf("unexpected action %d", act)
	}

	n.logger.Info("submitting login screen", zap.Stringer("screen", snap.State))

	fieldCtx, cancel := boundedContext(ctx, n.opts.SelectorTimeout)
	defer cancel()

	if err := n.page.Focus(fieldCtx, field); err != nil {
		return false, err
	}
	if err := n.page.Type(fieldCtx, value); err != nil {
		return false, err
	}
	return true, n.page.Click(fieldCtx, sel.Submit)
}

// classify reads the current screen, bounded by the selector timeout. A page
// that does not answer in time is Indeterminate.
func (n *Navigator) classify(ctx context.Context) screen.Snapshot {
	cctx, cancel := boundedContext(ctx, n.opts.SelectorTimeout)
	defer cancel()
	return n.classifier.Classify(cctx, n.page)
}

// settle waits for the navigation started by a submit and then for any known
// marker. Timeouts here are not fatal; the next classification decides.
func (n *Navigator) settle(ctx context.Context) {
	if err := n.page.WaitForNavigation(ctx, n.opts.NavigationTimeout); err != nil {
		n.logger.Debug("navigation did not settle", zap.Error(err))
	}
	n.waitForMarkers(ctx)
}

func (n *Navigator) waitForMarkers(ctx context.Context) {
	if err := n.page.WaitForAny(ctx, n.opts.Selectors.Markers(), n.opts.SelectorTimeout); err != nil {
		n.logger.Debug("no screen marker appeared", zap.Error(err))
	}
}

// boundedContext applies timeout when it is positive.
func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
