package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/carthagofood/carthago/internal/apperr"
	"github.com/carthagofood/carthago/internal/models"
	"github.com/carthagofood/carthago/internal/validation"
)

// Domain endpoints only shape requests. Ordering, dispatch and approval
// rules live on the collaborator.

// Nearby lists restaurants within radius kilometres of a point.
func (c *Client) Nearby(ctx context.Context, lat, lon, radius float64) ([]models.Restaurant, error) {
	if !validation.Coordinates(lat, lon) {
		return nil, apperr.Validation("Validation failed",
			apperr.FieldError{Field: "location", Message: "Invalid coordinates"})
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))

	var out []models.Restaurant
	if err := c.Do(ctx, http.MethodGet, "/restaurants?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Restaurant returns one restaurant.
func (c *Client) Restaurant(ctx context.Context, id string) (*models.Restaurant, error) {
	var out models.Restaurant
	if err := c.Do(ctx, http.MethodGet, "/restaurants/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Menu returns the menu of a restaurant.
func (c *Client) Menu(ctx context.Context, restaurantID string) ([]models.MenuItem, error) {
	var out []models.MenuItem
	path := fmt.Sprintf("/restaurants/%s/menu", url.PathEscape(restaurantID))
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder places an order. Only cash payment is accepted; an empty
// payment method defaults to cash.
func (c *Client) CreateOrder(ctx context.Context, order models.NewOrder) (*models.Order, error) {
	if order.PaymentMethod == "" {
		order.PaymentMethod = models.PaymentCash
	}
	v := validation.New().
		Required("restaurant_id", order.RestaurantID).
		Required("delivery_address", order.DeliveryAddress).
		OneOf("payment_method", order.PaymentMethod, models.PaymentCash).
		Custom("items", len(order.Items) == 0, "At least one item is required").
		Custom("location", !validation.Coordinates(order.Lat, order.Lon), "Invalid coordinates")
	for i, item := range order.Items {
		v.Custom(fmt.Sprintf("items[%d].quantity", i), item.Quantity < 1, "Quantity must be at least 1")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	var out models.Order
	if err := c.Do(ctx, http.MethodPost, "/orders", order, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Order returns one order.
func (c *Client) Order(ctx context.Context, id string) (*models.Order, error) {
	var out models.Order
	if err := c.Do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OrderHistory returns one page of the customer's orders. Page and limit
// default to 1 and 10.
func (c *Client) OrderHistory(ctx context.Context, page, limit int) (*models.OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	path := fmt.Sprintf("/orders/history?page=%d&limit=%d", page, limit)

	var out models.OrderPage
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateOrderStatus moves an order to status (restaurant and rider).
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	var out models.Order
	path := fmt.Sprintf("/orders/%s/status", url.PathEscape(id))
	body := map[string]models.OrderStatus{"status": status}
	if err := c.Do(ctx, http.MethodPatch, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels an order with an optional reason.
func (c *Client) CancelOrder(ctx context.Context, id, reason string) (*models.Order, error) {
	var out models.Order
	path := fmt.Sprintf("/orders/%s/cancel", url.PathEscape(id))
	body := map[string]string{"reason": reason}
	if err := c.Do(ctx, http.MethodPatch, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AvailableOrders lists orders a rider may accept.
func (c *Client) AvailableOrders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	if err := c.Do(ctx, http.MethodGet, "/rider/available-orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptOrder assigns an order to the calling rider.
func (c *Client) AcceptOrder(ctx context.Context, id string) (*models.Order, error) {
	var out models.Order
	path := fmt.Sprintf("/rider/orders/%s/accept", url.PathEscape(id))
	if err := c.Do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetAvailability toggles whether the rider receives new orders.
func (c *Client) SetAvailability(ctx context.Context, available bool) error {
	return c.Do(ctx, http.MethodPatch, "/rider/availability", map[string]bool{"available": available}, nil)
}

// UpdateLocation reports the rider position.
func (c *Client) UpdateLocation(ctx context.Context, lat, lon float64) error {
	if !validation.Coordinates(lat, lon) {
		return apperr.Validation("Validation failed",
			apperr.FieldError{Field: "location", Message: "Invalid coordinates"})
	}
	body := map[string]float64{"lat": lat, "lon": lon}
	return c.Do(ctx, http.MethodPatch, "/rider/location", body, nil)
}

// ApproveRestaurant approves a pending restaurant account (admin).
func (c *Client) ApproveRestaurant(ctx context.Context, id string) error {
	path := fmt.Sprintf("/admin/restaurants/%s/approve", url.PathEscape(id))
	return c.Do(ctx, http.MethodPatch, path, nil, nil)
}
