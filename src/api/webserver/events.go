package webserver

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/polkadot-grant-pay/src/notify"
)

type Events struct {
	hub *notify.Hub
}

func NewEvents(hub *notify.Hub) Events {
	return Events{hub: hub}
}

// Stream pushes approval events for the authenticated address over SSE.
// The subscription lives exactly as long as the connection.
func (h Events) Stream(c *gin.Context) {
	addr := c.GetString("addr")
	ch, cancel := h.hub.Subscribe(addr)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Kind, ev.Fields)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
