package entities

import "time"

// Entity is any record the catalog can store in a collection.
type Entity interface {
	EntityID() string
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	Address   string    `json:"address,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Customer) EntityID() string { return c.ID }

type OrderLine struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId,omitempty"`
	Status     string      `json:"status,omitempty"`
	Lines      []OrderLine `json:"lines,omitempty"`
	Total      float64     `json:"total"`
	Currency   string      `json:"currency,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

func (o Order) EntityID() string { return o.ID }

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku,omitempty"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p Product) EntityID() string { return p.ID }

type Claim struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId,omitempty"`
	CustomerID string    `json:"customerId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status,omitempty"`
	Amount     float64   `json:"amount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (c Claim) EntityID() string { return c.ID }

type Retailer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContactName string    `json:"contactName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Region      string    `json:"region,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r Retailer) EntityID() string { return r.ID }

type Shipment struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"orderId,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	TrackingNumber string     `json:"trackingNumber,omitempty"`
	Status         string     `json:"status,omitempty"`
	ShippedAt      *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (s Shipment) EntityID() string { return s.ID }
