// Package server exposes the client-facing HTTP surface: the websocket
// endpoint feeding the broadcast hub, the recent-candle API, and
// health/status probes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/minhvt/candlecast/hub"
)

// RecentSource serves the recent-candle cache. May be nil when no
// cache backend is configured.
type RecentSource interface {
	Recent(ctx context.Context, symbol, interval string, limit int) ([][]byte, error)
}

// Server wires the hub and the cache behind a gin engine.
type Server struct {
	hub      *hub.Hub
	recent   RecentSource
	state    func() string
	upgrader websocket.Upgrader
	srv      *http.Server
}

func New(h *hub.Hub, recent RecentSource, state func() string) *Server {
	s := &Server{
		hub:    h,
		recent: recent,
		state:  state,
		upgrader: websocket.Upgrader{
			// Browser clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/ws", s.handleWS)
	r.GET("/api/candles/recent", s.handleRecent)
	return r
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.routes()}
	log.Infof("http server listening on %s", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// apiEnvelope mirrors the response shape of the surrounding services.
type apiEnvelope struct {
	Data    any    `json:"data"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, apiEnvelope{Code: 1000, Message: "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, apiEnvelope{
		Data: gin.H{
			"stream":   s.state(),
			"sessions": s.hub.Sessions(),
		},
		Code:    1000,
		Message: "ok",
	})
}

func (s *Server) handleRecent(c *gin.Context) {
	if s.recent == nil {
		c.JSON(http.StatusServiceUnavailable, apiEnvelope{Code: 5003, Message: "recent-candle cache not configured"})
		return
	}
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		c.JSON(http.StatusBadRequest, apiEnvelope{Code: 4000, Message: "symbol and interval are required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	payloads, err := s.recent.Recent(c.Request.Context(), symbol, interval, limit)
	if err != nil {
		log.WithError(err).Warn("recent-candle lookup failed")
		c.JSON(http.StatusInternalServerError, apiEnvelope{Code: 5000, Message: "cache lookup failed"})
		return
	}
	out := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, json.RawMessage(p))
	}
	c.JSON(http.StatusOK, apiEnvelope{Data: out, Code: 1000, Message: "ok"})
}

// handleWS upgrades the connection, registers the session, and reads
// client messages until the peer goes away. Reading and hub callbacks
// happen on this goroutine; deliveries arrive via Session.Send.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sess := hub.NewWSSession(conn)
	s.hub.Connect(sess)
	defer func() {
		s.hub.Disconnect(sess)
		sess.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.HandleMessage(sess, msg)
	}
}
