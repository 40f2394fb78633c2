package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// EventStream serves live job updates.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// EventsHandler handles GET /ws.
type EventsHandler struct {
	stream EventStream
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(stream EventStream) *EventsHandler {
	return &EventsHandler{stream: stream}
}

// Subscribe upgrades the connection and streams job updates.
func (h *EventsHandler) Subscribe(c *gin.Context) {
	h.stream.ServeWS(c.Writer, c.Request)
}
