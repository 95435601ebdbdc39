// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// registerAPI mounts the admin REST endpoints. When admin auth is enabled
// the read endpoints require a bearer token obtained from /auth/token.
func (s *Server) registerAPI(router *mux.Router) {
	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	// Health check stays public
	apiRouter.HandleFunc("/health", s.handleHealth).Methods("GET")

	authCfg := s.config.Security.AdminAuth
	if authCfg.Enabled {
		s.jwtService = NewJWTService(authCfg.JWT.SecretKey, authCfg.JWT.Issuer, authCfg.JWT.ExpiryHours)
		s.keyService = NewKeyService()
		authMiddleware := NewAuthMiddleware(s.jwtService)

		apiRouter.HandleFunc("/auth/token", s.handleAuthToken).Methods("POST")
		apiRouter.Handle("/status", authMiddleware.RequireAuth(http.HandlerFunc(s.handleStatus))).Methods("GET")
		apiRouter.Handle("/channels", authMiddleware.RequireAuth(http.HandlerFunc(s.handleChannels))).Methods("GET")
		apiRouter.Handle("/channels/{channel}/commands", authMiddleware.RequireAuth(http.HandlerFunc(s.handleChannelCommands))).Methods("GET")
		return
	}

	apiRouter.HandleFunc("/status", s.handleStatus).Methods("GET")
	apiRouter.HandleFunc("/channels", s.handleChannels).Methods("GET")
	apiRouter.HandleFunc("/channels/{channel}/commands", s.handleChannelCommands).Methods("GET")
}

// Response helpers
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAuthToken exchanges the relay admin key for a bearer token
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminKey string `json:"admin_key"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.AdminKey == "" {
		s.sendError(w, http.StatusBadRequest, "Admin key is required")
		return
	}

	ok, err := s.keyService.VerifyKey(req.AdminKey, s.config.Security.AdminAuth.AdminKeyHash)
	if err != nil || !ok {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected admin token request")
		s.sendError(w, http.StatusUnauthorized, "Invalid admin key")
		return
	}

	token, err := s.jwtService.GenerateToken("admin")
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate admin token")
		s.sendError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": s.config.Security.AdminAuth.JWT.ExpiryHours * 3600,
		"token_type": "Bearer",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.GetStats()

	status := map[string]interface{}{
		"status":    "running",
		"uptime":    time.Since(stats.StartTime).Round(time.Second).String(),
		"version":   "1.0.0",
		"stats":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if s.store != nil {
		frames, sessions, err := s.store.Totals()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read audit totals")
		} else {
			status["audit"] = map[string]interface{}{
				"frames":   frames,
				"sessions": sessions,
			}
		}
	}

	s.sendJSON(w, http.StatusOK, status)
}

// channelInfo merges live membership with audited history for one channel
type channelInfo struct {
	Channel      string     `json:"channel"`
	LiveMembers  int        `json:"live_members"`
	Commands     int        `json:"commands"`
	Responses    int        `json:"responses"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	infos := make(map[string]*channelInfo)

	for name, members := range s.ActiveChannels() {
		infos[name] = &channelInfo{Channel: name, LiveMembers: members}
	}

	if s.store != nil {
		summaries, err := s.store.ChannelSummaries()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read channel summaries")
			s.sendError(w, http.StatusInternalServerError, "Failed to read channel summaries")
			return
		}
		for _, summary := range summaries {
			info, ok := infos[summary.Channel]
			if !ok {
				info = &channelInfo{Channel: summary.Channel}
				infos[summary.Channel] = info
			}
			info.Commands = summary.Commands
			info.Responses = summary.Responses
			if !summary.LastActivity.IsZero() {
				last := summary.LastActivity
				info.LastActivity = &last
			}
		}
	}

	channels := make([]*channelInfo, 0, len(infos))
	for _, info := range infos {
		channels = append(channels, info)
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"channels":  channels,
		"count":     len(channels),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleChannelCommands(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.sendError(w, http.StatusNotFound, "Audit store is disabled")
		return
	}

	vars := mux.Vars(r)
	channelName := vars["channel"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.store.Commands(channelName, limit)
	if err != nil {
		s.logger.Error().Str("channel", channelName).Err(err).Msg("Failed to read command history")
		s.sendError(w, http.StatusInternalServerError, "Failed to read command history")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"channel":   channelName,
		"commands":  records,
		"count":     len(records),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
