// Package server serves the block page tabs are redirected to, and lets the
// user start a break from it.
package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

const (
	defaultBlockPath = "/blocked"
	shutdownTimeout  = 5 * time.Second
)

// breakOptions are the durations offered on the block page, in minutes.
var breakOptions = []int{5, 10, 15, 30, 60}

var blockedTemplate = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Blocked</title></head>
<body>
<h1>This site is blocked right now</h1>
{{if .Original}}<p><code>{{.Original}}</code></p>{{end}}
{{if .BreakActive}}
<p>A break is active until {{.BreakEnds}}.</p>
{{else}}
<form method="post" action="/break">
<input type="hidden" name="originalUrl" value="{{.Original}}">
<select name="minutes">{{range .Options}}<option value="{{.}}">{{.}} minutes</option>{{end}}</select>
<button type="submit">Take a break</button>
</form>
{{end}}
</body>
</html>
`))

// Server is the block page HTTP server.
type Server struct {
	engine  *gin.Engine
	addr    string
	breaker *usecase.Breaker
	logger  *zap.Logger
}

// New builds the gin engine and its routes. The block page is served at the
// path of the configured block page base.
func New(addr string, page policy.BlockPage, breaker *usecase.Breaker, logger *zap.Logger) *Server {
	s := &Server{
		engine:  gin.New(),
		addr:    addr,
		breaker: breaker,
		logger:  logger,
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.SetHTMLTemplate(blockedTemplate)

	s.engine.GET(blockPath(page), s.handleBlocked)
	s.engine.GET("/break", s.handleBreakStatus)
	s.engine.POST("/break", s.handleBreakStart)
	s.engine.DELETE("/break", s.handleBreakEnd)
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return s
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("block page server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleBlocked(c *gin.Context) {
	original := c.Query("originalUrl")

	state, err := s.breaker.State()
	if err != nil {
		s.logger.Warn("failed to read break state", zap.Error(err))
	}

	c.HTML(http.StatusOK, "blocked", gin.H{
		"Original":    original,
		"BreakActive": state.Active,
		"BreakEnds":   state.EndTime().Format("15:04"),
		"Options":     breakOptions,
	})
}

func (s *Server) handleBreakStatus(c *gin.Context) {
	state, err := s.breaker.State()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":           state.Active,
		"endTimeEpochMs":   state.EndTimeEpochMs,
		"remainingSeconds": int(s.breaker.Remaining(state).Seconds()),
	})
}

func (s *Server) handleBreakStart(c *gin.Context) {
	minutes, err := strconv.Atoi(c.PostForm("minutes"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a number"})
		return
	}

	state, err := s.breaker.Start(minutes)
	switch {
	case errors.Is(err, usecase.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, usecase.ErrBreakActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "endTimeEpochMs": state.EndTimeEpochMs})
		return
	case err != nil:
		s.logger.Error("failed to start break", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Only send the browser back to web pages.
	if original := c.PostForm("originalUrl"); original != "" {
		if _, ok := policy.HostOf(original); ok {
			c.Redirect(http.StatusSeeOther, original)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "endTimeEpochMs": state.EndTimeEpochMs})
}

func (s *Server) handleBreakEnd(c *gin.Context) {
	if err := s.breaker.End(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// requestLogger logs each request through zap at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// blockPath is the route the block page base points at. NewBlockPage
// guarantees a path.
func blockPath(page policy.BlockPage) string {
	u, err := url.Parse(page.Base())
	if err != nil {
		return defaultBlockPath
	}
	return u.Path
}
