package api

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/util"
)

// handlePing is the liveness probe. It also reports the session state so a
// lobby browser can tell idle nodes from busy ones.
func (s *Server) handlePing(c *gin.Context) {
	st := s.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        util.AppName,
		"version":        Version,
		"session_state":  st.Session.State,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleVersion reports the build and the wire limits peers must share.
func (s *Server) handleVersion(c *gin.Context) {
	build := gin.H{"go": runtime.Version()}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, kv := range info.Settings {
			switch kv.Key {
			case "vcs.revision", "vcs.time", "vcs.modified":
				build[kv.Key] = kv.Value
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"name":    util.AppName,
		"version": Version,
		"build":   build,
		"wire": gin.H{
			"game_time_mask":   gametime.GameTimeMask,
			"max_players":      protocol.MaxNetPlayerNum,
			"max_admirals":     protocol.MaxAdmirals,
			"max_backup_ticks": protocol.MaxBackupTicks,
			"max_payload":      protocol.MaxPayloadSize,
		},
	})
}
