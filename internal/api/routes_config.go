package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
)

type sessionSettings struct {
	RegistrationLevel  *int  `json:"registration_level"`
	ResendOnRequest    *bool `json:"resend_on_request"`
	BandwidthReduction *bool `json:"bandwidth_reduction"`
	ResendDelay        *int  `json:"resend_delay"`
}

type networkField struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleGetConfig returns the configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	network := s.cfg.GetNetwork()
	if network.Password != "" {
		network.Password = "********"
	}
	app := s.cfg.GetApplicationData()
	if app.API.Token != "" {
		app.API.Token = "********"
	}

	c.JSON(http.StatusOK, gin.H{
		"player":           s.cfg.GetPlayer(),
		"network":          network,
		"application_data": app,
	})
}

// handleSetSession changes the live session settings. Omitted fields are
// left alone.
func (s *Server) handleSetSession(c *gin.Context) {
	var req sessionSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if req.RegistrationLevel != nil {
		if err := s.manager.SetLevel(ctx, *req.RegistrationLevel); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "field": "registration_level"})
			return
		}
	}
	if req.ResendOnRequest != nil || req.BandwidthReduction != nil {
		flags := s.manager.Status().Session.Flags
		if req.ResendOnRequest != nil {
			flags.ResendOnRequest = *req.ResendOnRequest
		}
		if req.BandwidthReduction != nil {
			flags.BandwidthReduction = *req.BandwidthReduction
		}
		if err := s.manager.SetFlags(ctx, flags); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "field": "flags"})
			return
		}
	}
	if req.ResendDelay != nil {
		if err := s.manager.SetResendDelay(ctx, *req.ResendDelay); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "field": "resend_delay"})
			return
		}
	}

	sess := s.manager.Session()
	c.JSON(http.StatusOK, gin.H{
		"status":             "updated",
		"registration_level": int(sess.Level()),
		"flags":              sess.Flags(),
		"resend_delay":       sess.ResendDelay(),
	})
}

// handleSetNetwork updates one network setting in config.json. It takes
// effect the next time a game is hosted or joined.
func (s *Server) handleSetNetwork(c *gin.Context) {
	var req networkField
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetNetwork()
	if err := s.cfg.UpdateNetworkField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetNetwork(previous)
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Error())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": msgs})
		return
	}

	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			s.logger.Error().Err(err).Msg("failed to save config")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}

	if s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventConfigChanged,
			Source: "api",
			Payload: events.ConfigChangedPayload{
				Section: "network",
				Key:     req.Key,
				Value:   req.Value,
			},
		})
	}

	s.logger.Info().Str("key", req.Key).Msg("network setting updated")
	c.JSON(http.StatusOK, gin.H{
		"status":  "updated",
		"network": s.cfg.GetNetwork(),
	})
}
