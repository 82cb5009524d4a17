package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/orchestrator"
)

// Machine wraps one orchestrator machine with the chat-facing affordances:
// plain-text control words and state-to-prompt rendering.
type Machine struct {
	key            string
	principalID    string
	conversationID string
	gw             *Gateway
	inner          *orchestrator.Machine
}

func newMachine(key, principalID, conversationID string, gw *Gateway) *Machine {
	return &Machine{key: key, principalID: principalID, conversationID: conversationID, gw: gw}
}

func (m *Machine) Propose(intent action.Intent) {
	m.inner.Propose(intent)
}

var confirmWords = map[string]bool{
	"yes": true, "y": true, "ok": true, "confirm": true, "do it": true, "go ahead": true,
}

var cancelWords = map[string]bool{
	"no": true, "n": true, "cancel": true, "stop": true, "never mind": true, "nevermind": true,
}

// TryControl interprets the message as a control word for the machine's
// current phase. It reports whether the message was consumed; anything not
// consumed goes to the assistant as a fresh turn.
func (m *Machine) TryControl(content string) bool {
	word := strings.ToLower(strings.TrimSpace(content))
	st := m.inner.Current()

	switch st.Phase {
	case orchestrator.PhaseConfirming:
		if confirmWords[word] {
			m.inner.Confirm()
			return true
		}
		if cancelWords[word] {
			m.cancel()
			return true
		}
	case orchestrator.PhaseSelecting:
		if cancelWords[word] {
			m.cancel()
			return true
		}
		if st.Selection != nil {
			if i, ok := pickIndex(word, len(st.Selection.Options)); ok {
				m.inner.ChooseOption(st.Selection.Options[i].ID)
				return true
			}
		}
	case orchestrator.PhaseConflicted:
		if cancelWords[word] {
			m.cancel()
			return true
		}
		if st.Conflict != nil {
			if i, ok := pickIndex(word, len(st.Conflict.SuggestedAlternatives)); ok {
				m.inner.ChooseAlternative(st.Conflict.SuggestedAlternatives[i])
				return true
			}
		}
	case orchestrator.PhaseAwaitingNewTarget:
		if confirmWords[word] {
			m.inner.ConfirmNewTarget()
			return true
		}
		if cancelWords[word] {
			m.cancel()
			return true
		}
	}
	return false
}

func (m *Machine) cancel() {
	m.inner.Cancel()
	m.gw.reply(context.Background(), m.conversationID, "Okay, cancelled.")
}

// onState fans a state change out to the websocket hub and, for phases that
// need user input or carry a verdict, into the conversation. A machine that
// settles back to idle is released from the gateway's registry.
func (m *Machine) onState(st orchestrator.State) {
	if m.gw.hub != nil {
		m.gw.hub.Broadcast(st)
	}

	if st.Phase == orchestrator.PhaseIdle {
		m.gw.release(m.key, m)
		return
	}

	prompt := renderPrompt(st)
	if prompt == "" {
		return
	}

	ctx := context.Background()
	if st.Phase == orchestrator.PhaseResult {
		m.gw.assistant.RecordOutcome(m.conversationID, m.principalID, prompt)
		m.gw.publish(ctx, busResult(m.conversationID, prompt))
		return
	}
	m.gw.reply(ctx, m.conversationID, prompt)
}

// pickIndex parses a 1-based choice like "1" or "option 2" against n options.
func pickIndex(word string, n int) (int, bool) {
	word = strings.TrimPrefix(word, "option ")
	i, err := strconv.Atoi(strings.TrimSpace(word))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}
