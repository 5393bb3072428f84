package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	allowed := map[SessionStatus][]SessionStatus{
		SessionStatusPending:    {SessionStatusProcessing, SessionStatusError},
		SessionStatusProcessing: {SessionStatusRetrying, SessionStatusCompleted, SessionStatusFailed, SessionStatusError},
		SessionStatusRetrying:   {SessionStatusProcessing, SessionStatusFailed, SessionStatusError},
	}
	all := []SessionStatus{
		SessionStatusPending, SessionStatusProcessing, SessionStatusRetrying,
		SessionStatusCompleted, SessionStatusFailed, SessionStatusError,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesNeverMove(t *testing.T) {
	for _, s := range TerminalStatuses {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.CanTransition(SessionStatusProcessing))
		assert.False(t, s.CanTransition(SessionStatusRetrying))
	}
}

func TestNewSessionAssignsFiles(t *testing.T) {
	files := []*SessionFile{{Name: "a.pdf"}, {Name: "b.txt"}}
	s := NewSession("s1", "u1", files)

	assert.Equal(t, SessionStatusPending, s.Status)
	assert.Equal(t, "s1", files[1].SessionID)
	assert.Equal(t, 1, files[1].Position)
}
