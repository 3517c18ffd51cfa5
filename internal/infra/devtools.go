package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	devtoolsOrigin  = "http://127.0.0.1"
	devtoolsTimeout = 5 * time.Second
	pageTargetType  = "page"
)

// ErrTabNotFound is returned when navigating a tab the browser no longer has.
var ErrTabNotFound = errors.New("tab not found")

// devtoolsTarget is one entry of the /json/list endpoint.
type devtoolsTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// cdpMessage covers requests, responses and events on a DevTools socket.
type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

// DevToolsTabManager implements domain.TabManager against a Chromium
// browser started with --remote-debugging-port.
type DevToolsTabManager struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu      sync.Mutex
	sockets map[string]string // tab ID -> page websocket URL
	nextID  int64
}

// NewDevToolsTabManager creates a tab manager for the DevTools endpoint at
// addr (host:port).
func NewDevToolsTabManager(addr string, logger *zap.Logger) *DevToolsTabManager {
	return &DevToolsTabManager{
		baseURL: "http://" + addr,
		client:  &http.Client{Timeout: devtoolsTimeout},
		logger:  logger,
		sockets: make(map[string]string),
	}
}

// List returns the browser's page targets. The endpoint orders targets by
// recent activation, so the first page is reported as the active tab.
func (m *DevToolsTabManager) List(ctx context.Context) ([]domain.Tab, error) {
	var targets []devtoolsTarget
	if err := m.getJSON(ctx, "/json/list", &targets); err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	tabs := make([]domain.Tab, 0, len(targets))
	sockets := make(map[string]string, len(targets))
	for _, t := range targets {
		if t.Type != pageTargetType {
			continue
		}
		tabs = append(tabs, domain.Tab{ID: t.ID, URL: t.URL, Active: len(tabs) == 0})
		sockets[t.ID] = t.WebSocketDebuggerURL
	}

	m.mu.Lock()
	m.sockets = sockets
	m.mu.Unlock()

	return tabs, nil
}

// Navigate sends Page.navigate to the tab and waits for the reply.
func (m *DevToolsTabManager) Navigate(ctx context.Context, tabID, url string) error {
	wsURL, err := m.socketFor(ctx, tabID)
	if err != nil {
		return err
	}

	ws, err := dialDevTools(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to tab %s: %w", tabID, err)
	}
	defer ws.Close()

	params, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return err
	}

	id := atomic.AddInt64(&m.nextID, 1)
	if err := websocket.JSON.Send(ws, cdpMessage{ID: id, Method: "Page.navigate", Params: params}); err != nil {
		return fmt.Errorf("failed to send navigate: %w", err)
	}

	for {
		var msg cdpMessage
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			return fmt.Errorf("failed to read navigate reply: %w", err)
		}
		if msg.ID != id {
			continue // event or unrelated reply
		}
		if msg.Error != nil {
			return msg.Error
		}
		var result struct {
			ErrorText string `json:"errorText"`
		}
		if len(msg.Result) > 0 {
			_ = json.Unmarshal(msg.Result, &result)
		}
		if result.ErrorText != "" {
			return fmt.Errorf("navigation failed: %s", result.ErrorText)
		}
		m.logger.Debug("tab navigated", zap.String("tab", tabID), zap.String("url", url))
		return nil
	}
}

// socketFor returns the page socket of tabID, re-listing once on a miss.
func (m *DevToolsTabManager) socketFor(ctx context.Context, tabID string) (string, error) {
	m.mu.Lock()
	wsURL, ok := m.sockets[tabID]
	m.mu.Unlock()
	if ok && wsURL != "" {
		return wsURL, nil
	}

	if _, err := m.List(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	wsURL, ok = m.sockets[tabID]
	m.mu.Unlock()
	if !ok || wsURL == "" {
		return "", fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	return wsURL, nil
}

// BrowserSocket returns the browser-level websocket URL from /json/version.
func (m *DevToolsTabManager) BrowserSocket(ctx context.Context) (string, error) {
	var version struct {
		Browser              string `json:"Browser"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := m.getJSON(ctx, "/json/version", &version); err != nil {
		return "", fmt.Errorf("failed to query browser version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", errors.New("browser reported no debugger socket")
	}
	return version.WebSocketDebuggerURL, nil
}

func (m *DevToolsTabManager) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// dialDevTools opens a DevTools websocket bounded by ctx.
func dialDevTools(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(wsURL, devtoolsOrigin)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(devtoolsTimeout)
	}
	if err := ws.SetDeadline(deadline); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// Ensure DevToolsTabManager implements domain.TabManager.
var _ domain.TabManager = (*DevToolsTabManager)(nil)
