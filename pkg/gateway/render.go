package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/orchestrator"
)

func busResult(conversationID, content string) bus.OutboundMessage {
	return bus.OutboundMessage{
		ConversationID: conversationID,
		Kind:           bus.OutboundResult,
		Content:        content,
	}
}

// renderPrompt turns a machine state into the chat line the user should see.
// Phases that need no user attention render to the empty string.
func renderPrompt(st orchestrator.State) string {
	switch st.Phase {
	case orchestrator.PhaseConfirming:
		if st.Draft == nil {
			return ""
		}
		return fmt.Sprintf("%s\nReply yes to confirm or no to cancel.",
			action.Render(st.Draft.Name, st.Draft.Parameters))

	case orchestrator.PhaseSelecting:
		if st.Selection == nil {
			return ""
		}
		var b strings.Builder
		b.WriteString(st.Selection.Prompt)
		for i, opt := range st.Selection.Options {
			b.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Title))
			if opt.Subtitle != "" {
				b.WriteString(" (" + opt.Subtitle + ")")
			}
		}
		b.WriteString("\nReply with a number, or cancel.")
		return b.String()

	case orchestrator.PhaseConflicted:
		if st.Conflict == nil {
			return ""
		}
		var b strings.Builder
		c := st.Conflict
		b.WriteString(fmt.Sprintf("That time overlaps %q (%s to %s). Alternatives:",
			c.Conflicting.Title,
			c.Conflicting.Start.Format(time.Kitchen),
			c.Conflicting.End.Format(time.Kitchen)))
		for i, alt := range c.SuggestedAlternatives {
			b.WriteString(fmt.Sprintf("\n%d. %s", i+1, alt.Format("Mon Jan 2 15:04")))
		}
		b.WriteString("\nReply with a number, or cancel.")
		return b.String()

	case orchestrator.PhaseAwaitingNewTarget:
		if st.ProposedName == "" {
			return ""
		}
		return fmt.Sprintf("I don't know anyone named %q. Create a new contact and continue? (yes/no)", st.ProposedName)

	case orchestrator.PhaseResult:
		if st.Result == nil {
			return ""
		}
		if st.Result.Success {
			if st.Result.Message != "" {
				return st.Result.Message
			}
			return "Done."
		}
		if st.Result.Message != "" {
			return "That didn't work: " + st.Result.Message
		}
		return "That didn't work."
	}
	return ""
}
