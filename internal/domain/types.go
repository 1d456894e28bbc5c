// Package domain holds the row types of the ordering schema.
package domain

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// FoodItem is a row in food_items: one purchasable item on the menu.
type FoodItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	ImageURL    string    `json:"image_url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
}

// Order is a row in orders. Items are present only when the query embeds
// them.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	TotalAmount float64     `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	Items       []OrderItem `json:"order_items,omitempty"`
}

// OrderItem is a row in order_items: one line of an order. PriceAtTime is
// the item's price frozen at order time, so later menu edits do not change
// history.
type OrderItem struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	FoodItemID  string    `json:"food_item_id"`
	Quantity    int       `json:"quantity"`
	PriceAtTime float64   `json:"price_at_time"`
	FoodItem    *FoodItem `json:"food_item,omitempty"`
}

// Profile is a row in profiles, keyed by the auth user id.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
