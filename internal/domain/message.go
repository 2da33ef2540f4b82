package domain

// Sender identifies the author of a chat message.
type Sender struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

// AssistantSender is the reserved sender identity for assistant replies.
// Clients key off ID == "ai" to render the structured payload.
var AssistantSender = Sender{ID: "ai", Email: "AI"}

// ChatMessage is the payload of a project-message event. For assistant
// replies, Message holds the JSON-encoded assistant.Reply.
type ChatMessage struct {
	Message string `json:"message"`
	Sender  Sender `json:"sender"`
}
