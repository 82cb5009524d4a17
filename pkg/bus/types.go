package bus

// InboundMessage is a user message arriving from a chat surface.
type InboundMessage struct {
	ConversationID string `json:"conversation_id"`
	PrincipalID    string `json:"principal_id"`
	Sender         string `json:"sender,omitempty"`
	Content        string `json:"content"`
}

// OutboundKind distinguishes assistant replies from pipeline results so the
// UI can render them differently.
type OutboundKind string

const (
	OutboundReply  OutboundKind = "reply"
	OutboundResult OutboundKind = "result"
	OutboundRelay  OutboundKind = "relay" // message sent on the user's behalf
)

// OutboundMessage is a message the system emits toward a chat surface.
type OutboundMessage struct {
	ConversationID string       `json:"conversation_id"`
	TargetID       string       `json:"target_id,omitempty"`
	Kind           OutboundKind `json:"kind"`
	Content        string       `json:"content"`
}
