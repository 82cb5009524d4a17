// Package assistant turns inbound chat messages into either a plain reply or
// a proposed action. It never executes anything itself; action intents are
// handed to the orchestrator, which owns confirmation and execution.
package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/providers"
	"github.com/harborchat/valet/pkg/session"
)

const systemPrompt = `You are Valet, an assistant embedded in a messaging app.
You can schedule events, set reminders, send messages on the user's behalf,
and search their message history. When the user asks for one of those, call
the matching tool with the parameters you can extract from the conversation.
Use RFC 3339 timestamps. Never invent contact IDs; pass the name the user
gave you. When no tool fits, answer in plain prose.`

const defaultMaxHistory = 20

// Proposal is the assistant's verdict on one inbound message. Exactly one of
// Reply or Intent is set.
type Proposal struct {
	Reply  string
	Intent *action.Intent
}

type Assistant struct {
	provider   providers.Provider
	sessions   *session.Manager
	model      string
	maxHistory int
}

func New(provider providers.Provider, sessions *session.Manager, model string) *Assistant {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &Assistant{
		provider:   provider,
		sessions:   sessions,
		model:      model,
		maxHistory: defaultMaxHistory,
	}
}

// Handle records the inbound message, asks the model for a verdict and maps
// a tool call onto an action intent. Trivially recognizable requests are
// short-circuited without a model call.
func (a *Assistant) Handle(ctx context.Context, msg bus.InboundMessage) (*Proposal, error) {
	a.sessions.AddMessage(msg.ConversationID, msg.PrincipalID, "user", msg.Sender, msg.Content)

	if intent, ok := trySearchFallback(msg); ok {
		logger.InfoCF("assistant", "deterministic search intent", map[string]interface{}{
			"conversation": msg.ConversationID,
		})
		return &Proposal{Intent: intent}, nil
	}

	messages := a.buildMessages(msg)

	resp, err := a.provider.Chat(ctx, messages, toolDefinitions(), a.model, map[string]interface{}{
		"temperature": 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant chat: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		kind := action.Kind(tc.Name)
		if !action.Known(kind) {
			logger.WarnCF("assistant", "model proposed unknown tool", map[string]interface{}{
				"tool": tc.Name,
			})
			return &Proposal{Reply: "I'm not able to do that."}, nil
		}
		return &Proposal{Intent: &action.Intent{
			Name:           kind,
			Parameters:     tc.Arguments,
			ConversationID: msg.ConversationID,
		}}, nil
	}

	reply := resp.Content
	if reply == "" {
		reply = "Sorry, I didn't catch that."
	}
	a.sessions.AddMessage(msg.ConversationID, msg.PrincipalID, "assistant", "valet", reply)
	return &Proposal{Reply: reply}, nil
}

// RecordOutcome appends the pipeline's final word on an action to the
// conversation so later turns can reference it.
func (a *Assistant) RecordOutcome(conversationID, principalID, summary string) {
	a.sessions.AddMessage(conversationID, principalID, "assistant", "valet", summary)
}

func (a *Assistant) buildMessages(msg bus.InboundMessage) []providers.Message {
	history := a.sessions.History(msg.ConversationID)
	if len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{
		Role:    "system",
		Content: systemPrompt + "\nCurrent time: " + time.Now().UTC().Format(time.RFC3339),
	})
	for _, h := range history {
		role := h.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, providers.Message{Role: role, Content: h.Content})
	}
	return messages
}
