package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type personaView struct {
	Name    string   `json:"name"`
	Tone    string   `json:"tone"`
	Model   string   `json:"model"`
	Tools   []string `json:"tools,omitempty"`
	Default bool     `json:"default"`
}

type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type doneEvent struct {
	SessionID string `json:"session_id"`
	Persona   string `json:"persona"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handlePersonas(c *gin.Context) {
	all := s.orch.Personas().All()
	out := make([]personaView, 0, len(all))
	for _, p := range all {
		out = append(out, personaView{
			Name:    p.Name,
			Tone:    p.Tone,
			Model:   p.Model,
			Tools:   p.Tools,
			Default: p.ID() == s.orch.DefaultPersona(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleTools(c *gin.Context) {
	reg := s.orch.Tools()
	names := reg.Names()
	out := make([]toolView, 0, len(names))
	for _, name := range names {
		t, _ := reg.Get(name)
		out = append(out, toolView{Name: name, Description: t.Description()})
	}
	c.JSON(http.StatusOK, out)
}

// handleChat streams one Process call as SSE: a "chunk" event per chunk and a
// final "done" event with the session state.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	var entry *sessionEntry
	if req.SessionID == "" {
		entry = s.sessions.create(s.orch.DefaultPersona())
	} else {
		var ok bool
		if entry, ok = s.sessions.acquire(req.SessionID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
	}
	defer s.sessions.release(entry)

	entry.run.Lock()
	defer entry.run.Unlock()
	defer entry.publish()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	for chunk := range s.orch.Process(ctx, req.Message, entry.session) {
		entry.publish()
		c.SSEvent("chunk", chunk)
		c.Writer.Flush()
		if ctx.Err() != nil {
			return
		}
	}
	c.SSEvent("done", doneEvent{SessionID: entry.session.ID, Persona: entry.session.CurrentPersona})
	c.Writer.Flush()
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if !s.sessions.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
