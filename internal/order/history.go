package order

import (
	"context"
	"fmt"

	"github.com/iorgasnack/snackapp/internal/domain"
	"github.com/iorgasnack/snackapp/internal/session"
	"github.com/iorgasnack/snackapp/supabase"
)

// History reads the signed-in user's past orders.
type History struct {
	client *supabase.Client
	store  *session.Store
}

// NewHistory creates an order history reader.
func NewHistory(client *supabase.Client, store *session.Store) *History {
	return &History{client: client, store: store}
}

// List returns the user's orders, newest first, each with its lines and
// the menu item behind every line. The user filter is applied here as
// well as by row level security on the backend.
func (h *History) List(ctx context.Context) ([]domain.Order, error) {
	sess := h.store.Session()
	if sess == nil || sess.User == nil {
		return nil, session.ErrNotSignedIn
	}

	var orders []domain.Order
	err := h.client.From("orders").
		Select("*,order_items(*,food_item:food_items(*))").
		Eq("user_id", sess.User.ID).
		Order("created_at", supabase.OrderDesc).
		WithToken(sess.AccessToken).
		ExecuteInto(ctx, &orders)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return orders, nil
}
