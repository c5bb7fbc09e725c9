// Package models defines the core data structures shared by the client core
// and the sandbox: identities, credentials, notifications and order updates.
package models

import (
	"encoding/json"
	"time"
)

// Role gates which views and endpoints apply to an identity.
type Role string

const (
	// RoleCustomer orders food from restaurants.
	RoleCustomer Role = "customer"
	// RoleRestaurant manages a restaurant and its incoming orders.
	RoleRestaurant Role = "restaurant"
	// RoleRider picks up and delivers orders.
	RoleRider Role = "rider"
	// RoleAdmin manages the platform and its users.
	RoleAdmin Role = "admin"
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleCustomer, RoleRestaurant, RoleRider, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleRider, RoleAdmin:
		return true
	}
	return false
}

// NeedsApproval reports whether accounts of this role must be approved by an
// admin before they receive a credential.
func (r Role) NeedsApproval() bool {
	return r == RoleRestaurant || r == RoleRider
}

// Identity is the authenticated principal held by the session.
type Identity struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Email is the contact email address.
	Email string `json:"email"`
	// Phone is the phone number in +216XXXXXXXX form.
	Phone string `json:"phone"`
	// Role is the role the identity signed in with.
	Role Role `json:"role"`
	// VerifiedPhone is set once the phone number passed OTP verification.
	VerifiedPhone bool `json:"verified_phone"`
	// PreferredLanguage is one of the supported language codes.
	PreferredLanguage string `json:"preferred_language"`
	// Avatar is an optional image reference.
	Avatar string `json:"avatar,omitempty"`
	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
	// RestaurantID links restaurant accounts to their restaurant.
	RestaurantID string `json:"restaurant_id,omitempty"`
	// IsApproved is only meaningful for restaurant and rider accounts.
	IsApproved *bool `json:"is_approved,omitempty"`
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.IsApproved != nil {
		v := *i.IsApproved
		c.IsApproved = &v
	}
	return &c
}

// AuthResponse is returned by the login, register and OTP verification
// endpoints. Token is empty for accounts pending approval.
type AuthResponse struct {
	User    *Identity `json:"user"`
	Token   string    `json:"token,omitempty"`
	Message string    `json:"message,omitempty"`
}

// LoginCredentials identify an account by email or phone plus password.
type LoginCredentials struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// RegisterProfile is the payload of a new-account request.
type RegisterProfile struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Password          string `json:"password"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
}

// ProfileUpdate carries the fields to merge into the current identity.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Name              *string `json:"name,omitempty"`
	Email             *string `json:"email,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	PreferredLanguage *string `json:"preferred_language,omitempty"`
	Avatar            *string `json:"avatar,omitempty"`
}

// Apply merges the non-nil fields of u into a copy of id.
func (u ProfileUpdate) Apply(id *Identity) *Identity {
	out := id.Clone()
	if u.Name != nil {
		out.Name = *u.Name
	}
	if u.Email != nil {
		out.Email = *u.Email
	}
	if u.Phone != nil {
		out.Phone = *u.Phone
	}
	if u.PreferredLanguage != nil {
		out.PreferredLanguage = *u.PreferredLanguage
	}
	if u.Avatar != nil {
		out.Avatar = *u.Avatar
	}
	return out
}

// Category classifies a notification.
type Category string

const (
	// CategoryOrder is used for order lifecycle updates.
	CategoryOrder Category = "order"
	// CategoryDelivery is used for rider and delivery progress.
	CategoryDelivery Category = "delivery"
	// CategorySystem is used for platform announcements.
	CategorySystem Category = "system"
	// CategoryPromotion is used for marketing messages.
	CategoryPromotion Category = "promotion"
)

// Notification is one entry of the in-memory notification log.
type Notification struct {
	// ID is assigned locally when the push payload has none.
	ID string `json:"id"`
	// Type is the notification category.
	Type Category `json:"type"`
	// Title is the short headline.
	Title string `json:"title"`
	// Message is the body text.
	Message string `json:"message"`
	// Data is the optional structured payload, kept verbatim.
	Data json.RawMessage `json:"data,omitempty"`
	// Read is false until the user marks the notification read.
	Read bool `json:"read"`
	// CreatedAt is assigned locally when the push payload has none.
	CreatedAt time.Time `json:"created_at"`
}
