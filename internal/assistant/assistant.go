// Package assistant implements the AI assistant gateway: a free-text
// prompt in, a reply out, possibly carrying a generated file tree.
package assistant

import (
	"context"
	"encoding/json"

	"github.com/avekdev/devroom/internal/domain"
)

// Gateway turns a prompt into a reply asynchronously. Implementations may
// be slow and may fail; callers must not block room traffic on a call.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (*Reply, error)
}

// Reply is the assistant's answer. FileTree is nil for plain text
// replies; when present it maps file paths to generated contents.
type Reply struct {
	Text     string          `json:"text"`
	FileTree domain.FileTree `json:"fileTree,omitempty"`
}

// ParseReply decodes the model's raw output into a Reply. This is the
// single place the payload is parsed; downstream code works with the
// typed form only. Output that is not the expected JSON shape is
// preserved verbatim as plain text.
func ParseReply(raw string) *Reply {
	var reply Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil || reply.Text == "" {
		return &Reply{Text: raw}
	}
	return &reply
}
