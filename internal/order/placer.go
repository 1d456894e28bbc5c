// Package order places orders and reads order history.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/iorgasnack/snackapp/internal/domain"
	"github.com/iorgasnack/snackapp/internal/notify"
	"github.com/iorgasnack/snackapp/internal/session"
	"github.com/iorgasnack/snackapp/pkg/logger"
	"github.com/iorgasnack/snackapp/supabase"
)

// ErrInFlight is returned when an order for the same item is still being
// placed. It makes a double tap a no-op instead of a duplicate order.
var ErrInFlight = errors.New("order for this item is already in flight")

// Placer writes orders. Placement is two backend writes: the orders row,
// then the order_items row. There is no transaction across them; if the
// second write fails the order row stays behind without items.
type Placer struct {
	client *supabase.Client
	store  *session.Store
	notify notify.Notifier
	log    *logger.Logger

	// onPlaced runs after a successful placement, e.g. a menu refresh.
	onPlaced func(ctx context.Context)

	mu       sync.Mutex
	inFlight map[string]string // food item id -> placement token
}

// NewPlacer creates an order placer.
func NewPlacer(client *supabase.Client, store *session.Store, n notify.Notifier, log *logger.Logger) *Placer {
	return &Placer{
		client:   client,
		store:    store,
		notify:   n,
		log:      log,
		inFlight: make(map[string]string),
	}
}

// OnPlaced registers a hook run after each successful placement.
func (p *Placer) OnPlaced(fn func(ctx context.Context)) {
	p.onPlaced = fn
}

// Place orders one unit of item for the signed-in user. The item's
// current price is frozen into the order line as price_at_time.
func (p *Placer) Place(ctx context.Context, item domain.FoodItem) (*domain.Order, error) {
	sess := p.store.Session()
	if sess == nil || sess.User == nil {
		return nil, session.ErrNotSignedIn
	}

	p.mu.Lock()
	if _, busy := p.inFlight[item.ID]; busy {
		p.mu.Unlock()
		return nil, ErrInFlight
	}
	token := uuid.NewString()
	p.inFlight[item.ID] = token
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.inFlight[item.ID] == token {
			delete(p.inFlight, item.ID)
		}
		p.mu.Unlock()
	}()

	var placed domain.Order
	err := p.client.From("orders").
		Insert(map[string]any{
			"user_id":      sess.User.ID,
			"total_amount": item.Price,
			"status":       string(domain.StatusPending),
		}).
		WithToken(sess.AccessToken).
		Single().
		ExecuteInto(ctx, &placed)
	if err == nil && placed.ID == "" {
		err = errors.New("no order row returned")
	}
	if err != nil {
		p.log.Error("order insert failed", "food_item_id", item.ID, "error", err)
		p.notify.Alert("Error", "Failed to place order. Please try again.")
		return nil, fmt.Errorf("insert order: %w", err)
	}

	_, err = p.client.From("order_items").
		Insert(map[string]any{
			"order_id":      placed.ID,
			"food_item_id":  item.ID,
			"quantity":      1,
			"price_at_time": item.Price,
		}).
		WithToken(sess.AccessToken).
		Execute(ctx)
	if err != nil {
		p.log.Error("order item insert failed, order left without items",
			"order_id", placed.ID, "food_item_id", item.ID, "error", err)
		p.notify.Alert("Error", "Failed to place order. Please try again.")
		return nil, fmt.Errorf("insert order item: %w", err)
	}

	p.log.Info("order placed", "order_id", placed.ID, "food_item_id", item.ID, "total", item.Price)
	p.notify.Notice(fmt.Sprintf("Order placed! %s - $%.2f", item.Name, item.Price))

	if p.onPlaced != nil {
		p.onPlaced(ctx)
	}
	return &placed, nil
}

// InFlight reports whether a placement for the item is still running.
func (p *Placer) InFlight(itemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.inFlight[itemID]
	return busy
}
