package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ares-project/aresnet/internal/handshake"
	"github.com/ares-project/aresnet/internal/lockstep"
	"github.com/ares-project/aresnet/internal/netgame"
	"github.com/ares-project/aresnet/internal/session"
)

// requestTimeout bounds how long a handler waits for the frame loop.
const requestTimeout = 15 * time.Second

type hostRequest struct {
	GameName   string `json:"game_name"`
	PlayerName string `json:"player_name"`
	Password   string `json:"password"`
	ListenAddr string `json:"listen_addr"`
	MaxPlayers int    `json:"max_players"`
}

type joinRequest struct {
	Address    string `json:"address"`
	PlayerName string `json:"player_name"`
	Password   string `json:"password"`
}

type leaveRequest struct {
	Reason string `json:"reason"`
}

type keysRequest struct {
	Keys []string `json:"keys"`
}

type menuRequest struct {
	Page uint8 `json:"page"`
	Line uint8 `json:"line"`
}

type cheatRequest struct {
	Code uint8 `json:"code"`
}

type selectRequest struct {
	Ship   uint8 `json:"ship"`
	Target bool  `json:"target"`
}

type chatRequest struct {
	Text string `json:"text" binding:"required"`
}

// handleHost opens a game. Empty fields fall back to the configuration.
func (s *Server) handleHost(c *gin.Context) {
	var req hostRequest
	if !bindOptional(c, &req) {
		return
	}

	p := s.manager.HostParams()
	if req.GameName != "" {
		p.GameName = req.GameName
	}
	if req.PlayerName != "" {
		p.PlayerName = req.PlayerName
	}
	if req.Password != "" {
		p.Password = req.Password
	}
	if req.ListenAddr != "" {
		p.ListenAddr = req.ListenAddr
	}
	if req.MaxPlayers > 0 {
		p.MaxPlayers = req.MaxPlayers
	}

	s.run(c, "host", func(ctx context.Context) error {
		return s.manager.Host(ctx, p)
	}, gin.H{"game_name": p.GameName, "listen_addr": p.ListenAddr})
}

// handleJoin connects to a hosted game.
func (s *Server) handleJoin(c *gin.Context) {
	var req joinRequest
	if !bindOptional(c, &req) {
		return
	}

	p := s.manager.JoinParams()
	if req.Address != "" {
		p.Address = req.Address
	}
	if req.PlayerName != "" {
		p.PlayerName = req.PlayerName
	}
	if req.Password != "" {
		p.Password = req.Password
	}
	if p.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	s.run(c, "join", func(ctx context.Context) error {
		return s.manager.Join(ctx, p)
	}, gin.H{"address": p.Address})
}

// handleBegin starts the game from the lobby.
func (s *Server) handleBegin(c *gin.Context) {
	s.run(c, "begin", s.manager.Begin, nil)
}

// handleDecline refuses the host's invitation.
func (s *Server) handleDecline(c *gin.Context) {
	s.run(c, "decline", s.manager.Decline, nil)
}

// handleLeave ends or cancels the current game.
func (s *Server) handleLeave(c *gin.Context) {
	var req leaveRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "left via API"
	}
	s.run(c, "leave", func(ctx context.Context) error {
		return s.manager.Leave(ctx, req.Reason)
	}, nil)
}

// handleKeys replaces the held keys.
func (s *Server) handleKeys(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	keys, err := netgame.ParseKeys(req.Keys)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.run(c, "keys", func(ctx context.Context) error {
		return s.manager.SetKeys(ctx, keys)
	}, gin.H{"keys": netgame.KeyNames(keys)})
}

// handleMenu queues a menu selection.
func (s *Server) handleMenu(c *gin.Context) {
	var req menuRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.run(c, "menu", func(ctx context.Context) error {
		return s.manager.Menu(ctx, req.Page, req.Line)
	}, gin.H{"page": req.Page, "line": req.Line})
}

// handleCheat queues a cheat code.
func (s *Server) handleCheat(c *gin.Context) {
	var req cheatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.run(c, "cheat", func(ctx context.Context) error {
		return s.manager.Cheat(ctx, req.Code)
	}, gin.H{"code": req.Code})
}

// handleSelect queues a ship or target selection.
func (s *Server) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.run(c, "select", func(ctx context.Context) error {
		return s.manager.Select(ctx, req.Ship, req.Target)
	}, gin.H{"ship": req.Ship, "target": req.Target})
}

// handleChat sends a line of chat.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	s.run(c, "chat", func(ctx context.Context) error {
		return s.manager.Say(ctx, req.Text)
	}, nil)
}

// handleResolveDesync cancels a pending desync stop.
func (s *Server) handleResolveDesync(c *gin.Context) {
	s.run(c, "resolve_desync", s.manager.ResolveDesync, nil)
}

// run executes a manager request and writes the outcome.
func (s *Server) run(c *gin.Context, action string, fn func(ctx context.Context) error, extra gin.H) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("control request failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "action": action})
		return
	}

	s.logger.Info().Str("action", action).Str("client_ip", c.ClientIP()).Msg("control request")
	resp := gin.H{"status": "ok", "action": action}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

// bindOptional binds a JSON body if one was sent.
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, netgame.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, netgame.ErrNotInGame),
		errors.Is(err, session.ErrBadState),
		errors.Is(err, lockstep.ErrNotRunning),
		errors.Is(err, handshake.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, handshake.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, session.ErrSessionFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
