package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/logger"
)

const (
	SubjectChatInbound = "valet.chat.inbound"

	chatOutboundPrefix = "valet.chat.outbound."
	relayPrefix        = "valet.relay."
)

// OutboundSubject routes a gateway emission to its NATS subject. Replies and
// results go to the conversation's surface; relays go to the target contact.
func OutboundSubject(msg bus.OutboundMessage) string {
	if msg.Kind == bus.OutboundRelay {
		return relayPrefix + msg.TargetID
	}
	return chatOutboundPrefix + msg.ConversationID
}

// ChatBridge shuttles chat traffic between NATS subjects and the in-process
// message bus.
type ChatBridge struct {
	conn *nats.Conn
	bus  *bus.MessageBus
	sub  *nats.Subscription
}

func NewChatBridge(conn *nats.Conn, mb *bus.MessageBus) *ChatBridge {
	return &ChatBridge{conn: conn, bus: mb}
}

// Start subscribes to the inbound subject and pumps outbound messages back
// to NATS until the context is cancelled.
func (b *ChatBridge) Start(ctx context.Context) error {
	sub, err := b.conn.Subscribe(SubjectChatInbound, func(msg *nats.Msg) {
		var in bus.InboundMessage
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			logger.WarnCF("transport", "malformed inbound chat message", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		if err := b.bus.PublishInbound(ctx, in); err != nil {
			logger.WarnCF("transport", "inbound publish failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectChatInbound, err)
	}
	b.sub = sub

	go b.pumpOutbound(ctx)

	logger.InfoCF("transport", "Chat bridge listening", map[string]interface{}{
		"subject": SubjectChatInbound,
	})
	return nil
}

func (b *ChatBridge) pumpOutbound(ctx context.Context) {
	for {
		msg, ok := b.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := b.conn.Publish(OutboundSubject(msg), data); err != nil {
			logger.WarnCF("transport", "outbound NATS publish failed", map[string]interface{}{
				"subject": OutboundSubject(msg),
				"error":   err.Error(),
			})
		}
	}
}

func (b *ChatBridge) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
}
