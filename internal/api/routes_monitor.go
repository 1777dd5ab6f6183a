package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ares-project/aresnet/internal/util"
)

// handleStatus returns the whole status board.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Status())
}

// handleSession returns the session state machine and its settings.
func (s *Server) handleSession(c *gin.Context) {
	st := s.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"session":   st.Session,
		"scenario":  st.Scenario,
		"transport": st.Transport,
	})
}

// handlePlayers returns the player table.
func (s *Server) handlePlayers(c *gin.Context) {
	st := s.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"players":  st.Session.Players,
		"count":    len(st.Session.Players),
		"accepted": st.Accepted,
	})
}

// handleEngine returns the lock-step engine counters.
func (s *Server) handleEngine(c *gin.Context) {
	st := s.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"engine": st.Engine,
		"keys":   st.Keys,
		"frames": st.Frames,
	})
}

// handleWorld returns the simulated fleets and the chat log.
func (s *Server) handleWorld(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Status().World)
}

// handleLobby returns the pre-game lobby text.
func (s *Server) handleLobby(c *gin.Context) {
	st := s.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"lines": st.Lobby,
		"state": st.Session.State,
	})
}

// handleSystem returns host information and the current process load.
func (s *Server) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system": util.GetSystemInfo(),
		"load":   util.GetProcessLoad(),
	})
}

// handleHistory returns recent finished sessions and lifetime totals.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history is not available"})
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	records, err := s.history.RecentSessions(ctx, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read session history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session history"})
		return
	}
	totals, err := s.history.Totals(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read session totals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session totals"})
		return
	}

	sessions := make([]gin.H, 0, len(records))
	for _, r := range records {
		sessions = append(sessions, gin.H{
			"id":         r.ID,
			"role":       r.Role,
			"game_name":  r.GameName,
			"started_at": r.StartedAt,
			"ended_at":   r.EndedAt,
			"players":    r.Players,
			"latency":    r.Latency,
			"desynced":   r.Desynced,
			"reason":     r.Reason,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"totals":   totals,
	})
}
