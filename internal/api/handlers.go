package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/models"
	"chatrelay/internal/relay"
)

// maxBodyBytes must cover the largest conversation that passes validation:
// 100 messages of 4000 runes each is ~1.6 MB when every rune is 4-byte UTF-8,
// plus JSON framing.
const maxBodyBytes = 4 << 20

// Handler wires HTTP routes to the relay service.
type Handler struct {
	relay *relay.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(service *relay.Service) *Handler {
	return &Handler{relay: service}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/chat", h.chat)
}

// chat validates the inbound conversation and republishes the provider's
// reply as an SSE stream. Failures before the first fragment produce a
// plain JSON error response; once bytes are on the wire, failures are
// surfaced as a terminal error frame instead.
func (h *Handler) chat(c *gin.Context) {
	// Read one byte past the cap so an oversized body is rejected outright
	// instead of being truncated into a bogus parse failure.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(relay.CodeMalformedJSON)})
		return
	}
	if len(body) > maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": string(relay.CodeRequestTooLarge)})
		return
	}
	conv, verr := relay.ParseConversation(c.GetHeader("Content-Type"), body)
	if verr != nil {
		c.JSON(verr.Status(), gin.H{"error": string(verr.Code)})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(relay.CodeInternalError)})
		return
	}

	// SSE headers are committed lazily so pre-stream failures can still
	// short-circuit with a real HTTP status.
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reply, serr := h.relay.Stream(c.Request.Context(), conv, func(fragment string) error {
		start()
		return sendEvent("stream", gin.H{"content": fragment})
	})
	if serr != nil {
		// Full cause goes to the server log only; the client sees the code.
		log.Printf("relay stream failed: %v", serr)
		if !started {
			c.JSON(serr.Status(), gin.H{"error": string(serr.Code)})
			return
		}
		_ = sendEvent("error", gin.H{"message": string(serr.Code)})
		return
	}

	start()
	_ = sendEvent("done", gin.H{
		"message": models.NewMessage(models.RoleAssistant, reply),
	})
}
