// Package screen classifies which step of the login flow the schedule site is showing.
package screen

import (
	"context"
	"fmt"

	"github.com/beekhof/shift-sync/internal/browser"
)

// State is the screen the site is currently showing.
type State int

const (
	Indeterminate State = iota
	AwaitingCredential
	AwaitingPassword
	AwaitingSecurityAnswer
	OnSchedule
)

func (s State) String() string {
	switch s {
	case Indeterminate:
		return "indeterminate"
	case AwaitingCredential:
		return "credential"
	case AwaitingPassword:
		return "password"
	case AwaitingSecurityAnswer:
		return "security-question"
	case OnSchedule:
		return "schedule"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Markers is the raw result of probing the page. Several markers may be
// present at once; Resolve decides which one wins.
type Markers struct {
	Credential bool   `json:"credential"`
	Password   bool   `json:"password"`
	Security   bool   `json:"security"`
	Schedule   bool   `json:"schedule"`
	Question   string `json:"question"`
}

// Resolve maps markers onto a single state. Schedule beats password, which
// beats the security question, which beats the credential field.
func Resolve(m Markers) State {
	switch {
	case m.Schedule:
		return OnSchedule
	case m.Password:
		return AwaitingPassword
	case m.Security:
		return AwaitingSecurityAnswer
	case m.Credential:
		return AwaitingCredential
	default:
		return Indeterminate
	}
}

// Snapshot is one classification of the page.
type Snapshot struct {
	State State
	// Question is the security question text, set only for AwaitingSecurityAnswer.
	Question string
}

// Selectors locates the login fields, the submit button and the schedule.
type Selectors struct {
	Credential    string
	Password      string
	SecurityLabel string
	SecurityInput string
	Submit        string
	Schedule      string
}

// DefaultSelectors returns the selectors of the MySchedule site.
func DefaultSelectors() Selectors {
	return Selectors{
		Credential:    ".txtUserid",
		Password:      "input.tbxPassword",
		SecurityLabel: ".bodytext.lblKBQ.lblKBQ1",
		SecurityInput: "input.tbxKBA",
		Submit:        "input[type='submit']:not(.aspNetDisabled)",
		Schedule:      ".scheduleShift",
	}
}

// Markers returns every selector that identifies a known screen.
func (s Selectors) Markers() []string {
	return []string{s.Credential, s.Password, s.SecurityLabel, s.Schedule}
}

// Classifier probes a page for the login and schedule markers.
type Classifier struct {
	script string
}

// NewClassifier builds the probe script for the given selectors.
func NewClassifier(sel Selectors) *Classifier {
	return &Classifier{script: markersScript(sel)}
}

// Classify never fails: a page that cannot be queried is Indeterminate.
func (c *Classifier) Classify(ctx context.Context, page browser.Browser) Snapshot {
	var m Markers
	if err := page.Evaluate(ctx, c.script, &m); err != nil {
		return Snapshot{State: Indeterminate}
	}

	state := Resolve(m)
	snap := Snapshot{State: state}
	if state == AwaitingSecurityAnswer {
		snap.Question = m.Question
	}
	return snap
}

func markersScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
  const question = document.querySelector(%s);
  return {
    credential: document.querySelectorAll(%s).length > 0,
    password: document.querySelectorAll(%s).length > 0,
    security: !!question,
    schedule: document.querySelectorAll(%s).length > 0,
    question: question ? question.innerText : ""
  };
})()`, browser.Quote(sel.SecurityLabel), browser.Quote(sel.Credential), browser.Quote(sel.Password), browser.Quote(sel.Schedule))
}
