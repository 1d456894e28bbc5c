// Package catalog reads the menu. The menu is public data: reads use the
// anon key, and a failed refresh keeps the last good snapshot on screen.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/iorgasnack/snackapp/internal/domain"
	"github.com/iorgasnack/snackapp/internal/notify"
	"github.com/iorgasnack/snackapp/pkg/logger"
	"github.com/iorgasnack/snackapp/supabase"
)

// Reader loads and caches the menu, newest items first.
type Reader struct {
	client *supabase.Client
	notify notify.Notifier
	log    *logger.Logger

	mu     sync.Mutex
	items  []domain.FoodItem
	loaded bool
	stale  bool
}

// NewReader creates a menu reader.
func NewReader(client *supabase.Client, n notify.Notifier, log *logger.Logger) *Reader {
	return &Reader{client: client, notify: n, log: log}
}

// Load fetches the menu. The first load propagates failure; once a
// snapshot exists, a failed reload keeps it, notifies the user and
// returns nil so callers keep rendering.
func (r *Reader) Load(ctx context.Context) error {
	var items []domain.FoodItem
	err := r.client.From("food_items").
		Select("*").
		Order("created_at", supabase.OrderDesc).
		ExecuteInto(ctx, &items)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		if !r.loaded {
			return fmt.Errorf("load menu: %w", err)
		}
		r.stale = true
		r.log.Warn("menu refresh failed, keeping last snapshot", "error", err)
		r.notify.Notice("Could not refresh the menu. Showing the last loaded items.")
		return nil
	}

	r.items = items
	r.loaded = true
	r.stale = false
	r.log.Debug("menu loaded", "items", len(items))
	return nil
}

// Refresh re-fetches the menu with Load's staleness policy.
func (r *Reader) Refresh(ctx context.Context) error {
	return r.Load(ctx)
}

// Items returns the current snapshot, newest first.
func (r *Reader) Items() []domain.FoodItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.FoodItem(nil), r.items...)
}

// Stale reports whether the snapshot survived a failed refresh.
func (r *Reader) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}
