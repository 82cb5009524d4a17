// Package gateway runs the chat side of the pipeline: it consumes inbound
// messages, lets the assistant propose actions, drives one orchestrator
// machine per conversation and renders pipeline state back into chat.
package gateway

import (
	"context"
	"sync"

	"github.com/harborchat/valet/pkg/assistant"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/orchestrator"
)

// Broadcaster receives every machine state change, typically a websocket hub.
type Broadcaster interface {
	Broadcast(st orchestrator.State)
}

// ExecutorFactory returns the pipeline boundary for one principal. The
// transport client carries a per-principal token, so executors are minted
// lazily as principals appear.
type ExecutorFactory func(principalID string) (orchestrator.Executor, error)

type Gateway struct {
	bus       *bus.MessageBus
	assistant *assistant.Assistant
	executors ExecutorFactory
	targets   orchestrator.TargetCreator
	hub       Broadcaster
	machOpts  []orchestrator.Option

	mu       sync.Mutex
	machines map[string]*Machine
}

func New(mb *bus.MessageBus, a *assistant.Assistant, executors ExecutorFactory, targets orchestrator.TargetCreator, hub Broadcaster, machOpts ...orchestrator.Option) *Gateway {
	return &Gateway{
		bus:       mb,
		assistant: a,
		executors: executors,
		targets:   targets,
		hub:       hub,
		machOpts:  machOpts,
		machines:  make(map[string]*Machine),
	}
}

// Run consumes inbound messages until the context is cancelled or the bus
// closes.
func (g *Gateway) Run(ctx context.Context) {
	logger.InfoC("gateway", "gateway started")
	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("gateway", "gateway stopped")
			return
		}
		g.handle(ctx, msg)
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	m, err := g.machine(msg.PrincipalID, msg.ConversationID)
	if err != nil {
		logger.ErrorCF("gateway", "executor unavailable", map[string]interface{}{
			"principal": msg.PrincipalID,
			"error":     err.Error(),
		})
		g.reply(ctx, msg.ConversationID, "Something went wrong on my end; try again in a moment.")
		return
	}

	if m.TryControl(msg.Content) {
		return
	}

	prop, err := g.assistant.Handle(ctx, msg)
	if err != nil {
		logger.ErrorCF("gateway", "assistant failure", map[string]interface{}{
			"conversation": msg.ConversationID,
			"error":        err.Error(),
		})
		g.reply(ctx, msg.ConversationID, "Sorry, I couldn't process that.")
		return
	}

	if prop.Intent != nil {
		m.Propose(*prop.Intent)
		return
	}
	g.reply(ctx, msg.ConversationID, prop.Reply)
}

// machine returns the live machine for a conversation, creating it on first
// contact.
func (g *Gateway) machine(principalID, conversationID string) (*Machine, error) {
	key := principalID + "|" + conversationID

	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.machines[key]; ok {
		return m, nil
	}

	execBoundary, err := g.executors(principalID)
	if err != nil {
		return nil, err
	}

	m := newMachine(key, principalID, conversationID, g)
	opts := append([]orchestrator.Option{orchestrator.WithListener(m.onState)}, g.machOpts...)
	m.inner = orchestrator.New(execBoundary, g.targets, principalID, opts...)
	g.machines[key] = m
	return m, nil
}

// release drops an idle machine from the registry. The next message on the
// conversation builds a fresh one, so the map only holds live pipelines.
func (g *Gateway) release(key string, m *Machine) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.machines[key] == m {
		delete(g.machines, key)
	}
}

func (g *Gateway) reply(ctx context.Context, conversationID, content string) {
	if content == "" {
		return
	}
	g.publish(ctx, bus.OutboundMessage{
		ConversationID: conversationID,
		Kind:           bus.OutboundReply,
		Content:        content,
	})
}

// publish is the single exit to the outbound bus; a full or closed bus is
// logged rather than silently dropped.
func (g *Gateway) publish(ctx context.Context, msg bus.OutboundMessage) {
	if err := g.bus.PublishOutbound(ctx, msg); err != nil {
		logger.WarnCF("gateway", "outbound publish failed", map[string]interface{}{
			"conversation": msg.ConversationID,
			"kind":         string(msg.Kind),
			"error":        err.Error(),
		})
	}
}
