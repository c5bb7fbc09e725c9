package models

import "time"

// OrderStatus represents the states an order moves through.
type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusConfirmed     OrderStatus = "confirmed"
	StatusPreparing     OrderStatus = "preparing"
	StatusReady         OrderStatus = "ready"
	StatusRiderAssigned OrderStatus = "rider_assigned"
	StatusPickedUp      OrderStatus = "picked_up"
	StatusOnTheWay      OrderStatus = "on_the_way"
	StatusDelivered     OrderStatus = "delivered"
	StatusCancelled     OrderStatus = "cancelled"
)

// OrderUpdate is the payload of an order_update push event.
type OrderUpdate struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// PaymentCash is the only payment method accepted.
const PaymentCash = "cash"

// Restaurant is the public view of a restaurant.
type Restaurant struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Address     string  `json:"address"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	IsOpen      bool    `json:"is_open"`
	OpensAt     string  `json:"opens_at,omitempty"`
	ClosesAt    string  `json:"closes_at,omitempty"`
	Rating      float64 `json:"rating"`
	DeliveryFee float64 `json:"delivery_fee"`
}

// MenuItem is one dish on a restaurant menu.
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Category    string  `json:"category,omitempty"`
	Image       string  `json:"image,omitempty"`
	IsAvailable bool    `json:"is_available"`
}

// OrderItem is a line of an order.
type OrderItem struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name,omitempty"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price,omitempty"`
}

// Order is a customer order as returned by the REST collaborator.
type Order struct {
	ID              string      `json:"id"`
	RestaurantID    string      `json:"restaurant_id"`
	CustomerID      string      `json:"customer_id,omitempty"`
	RiderID         string      `json:"rider_id,omitempty"`
	Status          OrderStatus `json:"status"`
	Items           []OrderItem `json:"items"`
	Total           float64     `json:"total"`
	DeliveryAddress string      `json:"delivery_address"`
	Lat             float64     `json:"lat"`
	Lon             float64     `json:"lon"`
	PaymentMethod   string      `json:"payment_method"`
	Notes           string      `json:"notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewOrder is the payload used to place an order.
type NewOrder struct {
	RestaurantID    string      `json:"restaurant_id"`
	Items           []OrderItem `json:"items"`
	DeliveryAddress string      `json:"delivery_address"`
	Lat             float64     `json:"lat"`
	Lon             float64     `json:"lon"`
	PaymentMethod   string      `json:"payment_method"`
	Notes           string      `json:"notes,omitempty"`
}

// OrderPage is one page of an order history listing.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
}
