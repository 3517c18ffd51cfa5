// Package fixtures provides in-memory collaborators for tests.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// ErrTabClosed is returned when navigating a tab that no longer exists.
var ErrTabClosed = errors.New("tab closed")

// Navigation records one Navigate call.
type Navigation struct {
	TabID string
	URL   string
}

// FakeBrowser implements domain.TabManager over an in-memory tab set.
type FakeBrowser struct {
	mu       sync.Mutex
	tabs     map[string]string
	order    []string
	active   string
	nextID   int
	history  []Navigation
	failures map[string]error
	listErr  error
}

// NewFakeBrowser creates a browser with no tabs.
func NewFakeBrowser() *FakeBrowser {
	return &FakeBrowser{
		tabs:     make(map[string]string),
		failures: make(map[string]error),
	}
}

// Open adds a tab showing url, makes it active and returns its ID.
func (b *FakeBrowser) Open(url string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("tab-%d", b.nextID)
	b.tabs[id] = url
	b.order = append(b.order, id)
	b.active = id
	return id
}

// Close removes a tab.
func (b *FakeBrowser) Close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tabs, id)
	for i, t := range b.order {
		if t == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.active == id {
		b.active = ""
	}
}

// Visit simulates the user typing url into a tab.
func (b *FakeBrowser) Visit(id, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tabs[id]; ok {
		b.tabs[id] = url
		b.active = id
	}
}

// URL returns what a tab currently shows.
func (b *FakeBrowser) URL(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tabs[id]
}

// FailNavigation makes every Navigate on id return err; nil clears it.
func (b *FakeBrowser) FailNavigation(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, id)
		return
	}
	b.failures[id] = err
}

// FailList makes List return err; nil clears it.
func (b *FakeBrowser) FailList(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr = err
}

// History returns every successful navigation so far.
func (b *FakeBrowser) History() []Navigation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Navigation(nil), b.history...)
}

// List implements domain.TabManager.
func (b *FakeBrowser) List(ctx context.Context) ([]domain.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	tabs := make([]domain.Tab, 0, len(b.order))
	for _, id := range b.order {
		tabs = append(tabs, domain.Tab{ID: id, URL: b.tabs[id], Active: id == b.active})
	}
	return tabs, nil
}

// Navigate implements domain.TabManager.
func (b *FakeBrowser) Navigate(ctx context.Context, tabID, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[tabID]; err != nil {
		return err
	}
	if _, ok := b.tabs[tabID]; !ok {
		return fmt.Errorf("%w: %s", ErrTabClosed, tabID)
	}
	b.tabs[tabID] = url
	b.history = append(b.history, Navigation{TabID: tabID, URL: url})
	return nil
}

// Ensure FakeBrowser implements domain.TabManager.
var _ domain.TabManager = (*FakeBrowser)(nil)
