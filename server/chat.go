package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/hyperagent/provider"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// chatRequest is one inbound client turn.
type chatRequest struct {
	AgentID        string `json:"agent_id"`
	UserMessage    string `json:"user_message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Options        struct {
		Temperature  float64 `json:"temperature,omitempty"`
		MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	} `json:"options"`
}

// chatMessage is one outbound frame: a token, a completion marker, or an
// error.
type chatMessage struct {
	Type           string `json:"type"` // "token", "done", or "error"
	Token          string `json:"token,omitempty"`
	Message        string `json:"message,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chat streams persona-prompted generation over a websocket, one turn per
// inbound message.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.AgentID == "" || strings.TrimSpace(req.UserMessage) == "" {
			_ = conn.WriteJSON(chatMessage{Type: "error", Message: "agent_id and user_message are required"})
			return
		}

		p, err := s.personas.Get(req.AgentID)
		if err != nil {
			_ = conn.WriteJSON(chatMessage{Type: "error", Message: "agent " + req.AgentID + " not found"})
			return
		}

		conversationID := s.conversations.ensure(req.ConversationID)
		userMessage := strings.TrimSpace(req.UserMessage)
		history := s.conversations.history(conversationID)
		s.conversations.append(conversationID, "user", userMessage)

		prompt := provider.BuildPrompt(p.SystemPrompt, p.MarkdownContext, history, userMessage)
		fragments, err := s.backend.Stream(r.Context(), provider.Request{
			Prompt:      prompt,
			MaxTokens:   req.Options.MaxNewTokens,
			Temperature: req.Options.Temperature,
		})
		if err != nil {
			_ = conn.WriteJSON(chatMessage{Type: "error", Message: err.Error(), ConversationID: conversationID})
			continue
		}

		var assistant strings.Builder
		failed := false
		for fragment := range fragments {
			if fragment.Err != nil {
				_ = conn.WriteJSON(chatMessage{Type: "error", Message: fragment.Err.Error(), ConversationID: conversationID})
				failed = true
				break
			}
			assistant.WriteString(fragment.Text)
			if err := conn.WriteJSON(chatMessage{Type: "token", Token: fragment.Text, ConversationID: conversationID}); err != nil {
				return
			}
		}
		if failed {
			continue
		}
		if err := conn.WriteJSON(chatMessage{Type: "done", ConversationID: conversationID}); err != nil {
			return
		}
		if text := strings.TrimSpace(assistant.String()); text != "" {
			s.conversations.append(conversationID, "assistant", text)
		}
	}
}

// conversations keeps a bounded in-memory history per conversation for
// prompt assembly. The durable record lives in the event log; this cache
// only shapes prompts.
type conversations struct {
	mu       sync.Mutex
	maxTurns int
	turns    map[string][]provider.Turn
}

func newConversations(maxTurns int) *conversations {
	return &conversations{maxTurns: maxTurns, turns: make(map[string][]provider.Turn)}
}

// ensure returns a usable conversation id, minting one when absent.
func (c *conversations) ensure(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func (c *conversations) append(id, role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	turns := append(c.turns[id], provider.Turn{Role: role, Content: content})
	if len(turns) > c.maxTurns {
		turns = turns[len(turns)-c.maxTurns:]
	}
	c.turns[id] = turns
}

func (c *conversations) history(id string) []provider.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Turn(nil), c.turns[id]...)
}
