package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avekdev/devroom/internal/room"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// wsTransport adapts websocket.Conn to room.Transport. Writes get their
// own timeout so one slow client cannot stall a broadcast indefinitely.
type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) WriteEvent(ctx context.Context, ev room.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return t.ws.Write(writeCtx, websocket.MessageText, data)
}
