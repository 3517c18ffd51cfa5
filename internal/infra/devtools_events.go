package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// DevToolsEventSource implements domain.EventSource by subscribing to target
// discovery on the browser socket. A new page maps to TriggerTabActivated
// and a page URL change to TriggerNavigationComplete.
type DevToolsEventSource struct {
	tabs   *DevToolsTabManager
	logger *zap.Logger
}

// NewDevToolsEventSource creates an event source sharing the tab manager's
// endpoint.
func NewDevToolsEventSource(tabs *DevToolsTabManager, logger *zap.Logger) *DevToolsEventSource {
	return &DevToolsEventSource{tabs: tabs, logger: logger}
}

// Run streams events until ctx is canceled, reconnecting with backoff when
// the browser goes away.
func (s *DevToolsEventSource) Run(ctx context.Context, notify func(domain.Trigger)) error {
	backoff := reconnectMin
	for {
		err := s.session(ctx, notify)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Debug("devtools event stream closed", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if err == nil {
			backoff = reconnectMin
			continue
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// session runs one connection to the browser socket.
func (s *DevToolsEventSource) session(ctx context.Context, notify func(domain.Trigger)) error {
	wsURL, err := s.tabs.BrowserSocket(ctx)
	if err != nil {
		return err
	}

	cfg, err := websocket.NewConfig(wsURL, devtoolsOrigin)
	if err != nil {
		return err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer ws.Close()

	// Unblock Receive on shutdown.
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	params, _ := json.Marshal(map[string]bool{"discover": true})
	if err := websocket.JSON.Send(ws, cdpMessage{ID: 1, Method: "Target.setDiscoverTargets", Params: params}); err != nil {
		return fmt.Errorf("failed to subscribe to targets: %w", err)
	}
	s.logger.Info("listening for browser events", zap.String("socket", wsURL))

	urls := make(map[string]string)
	for {
		var msg cdpMessage
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			return err
		}
		if trigger, ok := classifyEvent(msg, urls); ok {
			notify(trigger)
		}
	}
}

// classifyEvent maps a DevTools event to a trigger. urls remembers the last
// URL seen per target so title-only updates are ignored.
func classifyEvent(msg cdpMessage, urls map[string]string) (domain.Trigger, bool) {
	switch msg.Method {
	case "Target.targetCreated", "Target.targetInfoChanged":
	case "Target.targetDestroyed":
		var p struct {
			TargetID string `json:"targetId"`
		}
		if json.Unmarshal(msg.Params, &p) == nil {
			delete(urls, p.TargetID)
		}
		return "", false
	default:
		return "", false
	}

	var p struct {
		TargetInfo targetInfo `json:"targetInfo"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil || p.TargetInfo.Type != pageTargetType {
		return "", false
	}

	info := p.TargetInfo
	prev, seen := urls[info.TargetID]
	urls[info.TargetID] = info.URL

	if msg.Method == "Target.targetCreated" {
		return domain.TriggerTabActivated, true
	}
	if seen && prev == info.URL {
		return "", false
	}
	return domain.TriggerNavigationComplete, true
}

// Ensure DevToolsEventSource implements domain.EventSource.
var _ domain.EventSource = (*DevToolsEventSource)(nil)
