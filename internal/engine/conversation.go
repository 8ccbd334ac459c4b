package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/internal/providers"
)

// Turn is one exchange unit within a call. Turns are append-only and never
// mutated after their creating state transition completes.
type Turn struct {
	Seq       int
	Role      string
	Content   string
	Function  string
	Arguments string
	Result    string
	BargedIn  bool
	LatencyMs int64
	CreatedAt time.Time
}

// Conversation is the per-call mutable state. It is owned exclusively by the
// call's event loop while the call runs; reading it from outside is only
// safe after the engine's Done channel is closed.
type Conversation struct {
	ID        string
	AgentID   string
	CallID    string
	Direction string
	StartedAt time.Time
	EndedAt   time.Time

	// Turns carry strictly increasing 1-based sequence numbers assigned in
	// completion order.
	Turns []Turn

	// Messages is the model's running context, verbatim and append-only.
	Messages []providers.Message

	TotalTokens int
	Outcome     string
}

func newConversation(agentID, callID, systemPrompt string) *Conversation {
	c := &Conversation{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CallID:    callID,
		Direction: "inbound",
		StartedAt: time.Now().UTC(),
	}
	if systemPrompt != "" {
		c.Messages = append(c.Messages, providers.Message{
			Role:    providers.RoleSystem,
			Content: systemPrompt,
		})
	}
	return c
}

func (c *Conversation) addTurn(role, content string) *Turn {
	c.Turns = append(c.Turns, Turn{
		Seq:       len(c.Turns) + 1,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return &c.Turns[len(c.Turns)-1]
}

func (c *Conversation) addMessage(m providers.Message) {
	c.Messages = append(c.Messages, m)
}

// messagesSnapshot copies the running context so a generation goroutine can
// read it while the loop keeps appending.
func (c *Conversation) messagesSnapshot() []providers.Message {
	out := make([]providers.Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}
