package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsManager() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type Product struct {
	ID                string           `json:"id"`
	SKU               string           `json:"sku"`
	Barcode           string           `json:"barcode,omitempty"`
	Name              string           `json:"name"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	UnitCost          decimal.Decimal  `json:"unit_cost"`
	TaxRate           *decimal.Decimal `json:"tax_rate,omitempty"`
	MinimumStockLevel int              `json:"minimum_stock_level"`
	MaximumStockLevel int              `json:"maximum_stock_level"`
	Active            bool             `json:"active"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// Money rounds to the two decimal places every persisted amount carries.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=cashier manager admin"`
	StoreID  string `json:"store_id,omitempty"`
}

type UserSummary struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
