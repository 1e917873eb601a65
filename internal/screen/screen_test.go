package screen

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/shift-sync/internal/browser/browsertest"
)

func TestResolve_AllCombinations(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		m := Markers{
			Credential: mask&1 != 0,
			Password:   mask&2 != 0,
			Security:   mask&4 != 0,
			Schedule:   mask&8 != 0,
		}

		var want State
		switch {
		case m.Schedule:
			want = OnSchedule
		case m.Password:
			want = AwaitingPassword
		case m.Security:
			want = AwaitingSecurityAnswer
		case m.Credential:
			want = AwaitingCredential
		default:
			want = Indeterminate
		}

		t.Run(fmt.Sprintf("%04b", mask), func(t *testing.T) {
			assert.Equal(t, want, Resolve(m))
		})
	}
}

func TestResolve_Precedence(t *testing.T) {
	assert.Equal(t, OnSchedule, Resolve(Markers{Credential: true, Password: true, Security: true, Schedule: true}))
	assert.Equal(t, AwaitingPassword, Resolve(Markers{Credential: true, Password: true, Security: true}))
	assert.Equal(t, AwaitingSecurityAnswer, Resolve(Markers{Credential: true, Security: true}))
	assert.Equal(t, AwaitingCredential, Resolve(Markers{Credential: true}))
	assert.Equal(t, Indeterminate, Resolve(Markers{}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "schedule", OnSchedule.String())
	assert.Equal(t, "security-question", AwaitingSecurityAnswer.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestClassify_SecurityQuestion(t *testing.T) {
	page := browsertest.New()
	page.EvaluateFunc = func(string) (any, error) {
		return Markers{Security: true, Question: "What was the name of your first pet?"}, nil
	}

	snap := NewClassifier(DefaultSelectors()).Classify(context.Background(), page)
	assert.Equal(t, AwaitingSecurityAnswer, snap.State)
	assert.Equal(t, "What was the name of your first pet?", snap.Question)
}

func TestClassify_QuestionOnlyReportedForSecurityScreen(t *testing.T) {
	page := browsertest.New()
	page.EvaluateFunc = func(string) (any, error) {
		return Markers{Password: true, Security: true, Question: "Favourite colour?"}, nil
	}

	snap := NewClassifier(DefaultSelectors()).Classify(context.Background(), page)
	assert.Equal(t, AwaitingPassword, snap.State)
	assert.Empty(t, snap.Question)
}

func TestClassify_EvaluationErrorIsIndeterminate(t *testing.T) {
	page := browsertest.New()
	page.EvaluateFunc = func(string) (any, error) {
		return nil, errors.New("Execution context was destroyed")
	}

	snap := NewClassifier(DefaultSelectors()).Classify(context.Background(), page)
	assert.Equal(t, Indeterminate, snap.State)
}

func TestClassify_ScriptUsesConfiguredSelectors(t *testing.T) {
	sel := DefaultSelectors()
	sel.Schedule = `.shift[data-kind="work"]`

	var script string
	page := browsertest.New()
	page.EvaluateFunc = func(expr string) (any, error) {
		script = expr
		return Markers{Schedule: true}, nil
	}

	snap := NewClassifier(sel).Classify(context.Background(), page)
	require.Equal(t, OnSchedule, snap.State)
	assert.Contains(t, script, `".shift[data-kind=\"work\"]"`)
	assert.Contains(t, script, `".txtUserid"`)
}

func TestSelectorsMarkers(t *testing.T) {
	sel := DefaultSelectors()
	assert.Equal(t, []string{".txtUserid", "input.tbxPassword", ".bodytext.lblKBQ.lblKBQ1", ".scheduleShift"}, sel.Markers())
}
