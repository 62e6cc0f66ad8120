package webservice

import (
	"errors"
	"net/http"
	"strconv"

	"mirrorcore/input"
	"mirrorcore/relay"
	"mirrorcore/session"

	"github.com/gin-gonic/gin"
)

func (wm *WebMaster) mirrorParam(c *gin.Context) (*Mirror, bool) {
	m, err := wm.mirror(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return m, true
}

func (wm *WebMaster) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, wm.listMirrors())
}

// handleStartSession starts a session. The body overrides the configured
// session parameters field by field.
func (wm *WebMaster) handleStartSession(c *gin.Context) {
	p := wm.cfg.Session.Params
	p.ExtraArgs = append([]string(nil), p.ExtraArgs...)
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	m, err := wm.startMirror(p)
	switch {
	case errors.Is(err, ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, m.View())
}

func (wm *WebMaster) handleGetSession(c *gin.Context) {
	m, ok := wm.mirrorParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.View())
}

func (wm *WebMaster) handleStopSession(c *gin.Context) {
	m, err := wm.stopMirror(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m.View())
}

// handleOffer answers a browser's SDP offer with a new viewer of the
// session's track.
func (wm *WebMaster) handleOffer(c *gin.Context) {
	m, ok := wm.mirrorParam(c)
	if !ok {
		return
	}
	var req struct {
		SDP string `json:"sdp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	answer, peer, err := m.Relay.Answer(req.SDP)
	switch {
	case errors.Is(err, relay.ErrTooManyPeers):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, relay.ErrEnded):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	case err != nil:
		wm.log.Warn().Err(err).Str("session", m.Session.ID()).Msg("offer")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "answer", "sdp": answer, "peer": peer})
}

func (wm *WebMaster) handleClosePeer(c *gin.Context) {
	m, ok := wm.mirrorParam(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("peer"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer"})
		return
	}
	if !m.Relay.ClosePeer(uint32(id)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (wm *WebMaster) handleCommand(c *gin.Context) {
	m, ok := wm.mirrorParam(c)
	if !ok {
		return
	}
	var cmd input.Command
	if err := c.ShouldBindJSON(&cmd); err != nil || cmd.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := m.Session.Command(cmd); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrNotStreaming) {
			status = http.StatusConflict
		} else if errors.Is(err, input.ErrUnknownCommand) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
