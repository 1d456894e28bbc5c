// Package live keeps realtime order subscriptions in step with the auth
// session: two channels while a user is signed in, none otherwise.
package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/iorgasnack/snackapp/internal/notify"
	"github.com/iorgasnack/snackapp/internal/session"
	"github.com/iorgasnack/snackapp/pkg/logger"
	"github.com/iorgasnack/snackapp/supabase"
)

// Subscriber mirrors the session into realtime subscriptions. For a
// signed-in user it holds exactly two channels: order status updates and
// order item inserts. Signed out, it holds none.
type Subscriber struct {
	client *supabase.Client
	store  *session.Store
	notify notify.Notifier
	log    *logger.Logger

	mu       sync.Mutex
	userID   string
	channels []*supabase.Channel
}

// New creates a subscriber over client, following store's transitions.
func New(client *supabase.Client, store *session.Store, n notify.Notifier, log *logger.Logger) *Subscriber {
	return &Subscriber{client: client, store: store, notify: n, log: log}
}

// Run consumes session transitions until ctx is done. Subscriptions are
// torn down and rebuilt whenever the signed-in user changes; realtime
// failures are logged and retried on the next transition, never fatal.
func (s *Subscriber) Run(ctx context.Context) {
	defer s.teardown(context.Background())

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-s.store.Changes():
			if !ok {
				return
			}
			s.apply(ctx, change)
		}
	}
}

// apply reconciles subscriptions with one session transition.
func (s *Subscriber) apply(ctx context.Context, change session.Change) {
	sess := change.Session
	if change.State != session.StateReady || sess == nil || sess.User == nil {
		s.teardown(ctx)
		return
	}

	s.mu.Lock()
	same := sess.User.ID == s.userID && len(s.channels) == 2
	s.mu.Unlock()
	if same {
		// Same user, channels up. A token refresh does not re-join.
		s.client.Realtime().SetAuth(sess.AccessToken)
		return
	}

	s.teardown(ctx)
	if err := s.subscribe(ctx, sess); err != nil {
		s.log.Error("realtime subscribe failed", "user_id", sess.User.ID, "error", err)
		s.teardown(ctx)
	}
}

// subscribe joins both order channels for the session's user. Either both
// succeed or neither is kept.
func (s *Subscriber) subscribe(ctx context.Context, sess *supabase.Session) error {
	rt := s.client.Realtime()
	rt.SetAuth(sess.AccessToken)
	if err := rt.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	uid := sess.User.ID

	orders, err := rt.SubscribeToPostgresChanges(ctx, supabase.PostgresChangesConfig{
		Event:  supabase.ChangeUpdate,
		Schema: "public",
		Table:  "orders",
		Filter: "user_id=eq." + uid,
	}, s.onOrderUpdate)
	if err != nil {
		return fmt.Errorf("subscribe orders: %w", err)
	}

	items, err := rt.SubscribeToPostgresChanges(ctx, supabase.PostgresChangesConfig{
		Event:  supabase.ChangeInsert,
		Schema: "public",
		Table:  "order_items",
		Filter: fmt.Sprintf("order_id=in.(select id from orders where user_id=eq.%s)", uid),
	}, s.onOrderItemInsert)
	if err != nil {
		_ = orders.Unsubscribe(ctx)
		return fmt.Errorf("subscribe order_items: %w", err)
	}

	s.mu.Lock()
	s.userID = uid
	s.channels = []*supabase.Channel{orders, items}
	s.mu.Unlock()
	s.log.Info("realtime subscriptions up", "user_id", uid)
	return nil
}

// teardown leaves all channels. Leave errors are logged; the channels are
// forgotten either way so a dead connection cannot wedge the subscriber.
func (s *Subscriber) teardown(ctx context.Context) {
	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.userID = ""
	s.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Unsubscribe(ctx); err != nil {
			s.log.Warn("realtime unsubscribe failed", "topic", ch.Topic(), "error", err)
		}
	}
}

// ChannelCount returns the number of held channels, 0 or 2.
func (s *Subscriber) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func (s *Subscriber) onOrderUpdate(ev supabase.ChangeEvent) {
	status := gjson.GetBytes(ev.Record, "status").String()
	if status == "" {
		s.log.Warn("order update without status", "table", ev.Table)
		return
	}
	s.notify.Notice(fmt.Sprintf("Your order is now %q", status))
}

func (s *Subscriber) onOrderItemInsert(ev supabase.ChangeEvent) {
	s.log.Debug("order item added",
		"order_id", gjson.GetBytes(ev.Record, "order_id").String(),
		"food_item_id", gjson.GetBytes(ev.Record, "food_item_id").String(),
	)
}
