package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Order statuses, as reported by the checkout provider.
const (
	StatusCreated   = "CREATED"
	StatusCompleted = "COMPLETED"
)

var ErrOrderNotFound = errors.New("order not found")

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

// Capture is the provider's answer to a capture call.
type Capture struct {
	OrderID     string
	Status      string
	UserID      int64
	PackageID   int64
	AmountCents int
}

// Provider creates and captures checkout orders.
type Provider interface {
	CreateOrder(ctx context.Context, userID int64, pkg Package) (Order, error)
	CaptureOrder(ctx context.Context, orderID string) (Capture, error)
}

type pendingOrder struct {
	userID      int64
	packageID   int64
	amountCents int
}

// SimulatedProvider approves every order it created itself. Orders live in memory only.
type SimulatedProvider struct {
	baseURL string

	mu     sync.Mutex
	orders map[string]pendingOrder
}

func NewSimulatedProvider(baseURL string) *SimulatedProvider {
	if baseURL == "" {
		baseURL = "https://checkout.example.com"
	}
	return &SimulatedProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		orders:  make(map[string]pendingOrder),
	}
}

func (p *SimulatedProvider) CreateOrder(_ context.Context, userID int64, pkg Package) (Order, error) {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))

	p.mu.Lock()
	p.orders[id] = pendingOrder{userID: userID, packageID: pkg.ID, amountCents: pkg.PriceCents}
	p.mu.Unlock()

	return Order{
		ID:     id,
		Status: StatusCreated,
		Links: []Link{
			{Href: fmt.Sprintf("%s/checkoutnow?token=%s", p.baseURL, id), Rel: "approve", Method: "GET"},
			{Href: fmt.Sprintf("%s/v2/checkout/orders/%s", p.baseURL, id), Rel: "self", Method: "GET"},
			{Href: fmt.Sprintf("%s/v2/checkout/orders/%s/capture", p.baseURL, id), Rel: "capture", Method: "POST"},
		},
	}, nil
}

func (p *SimulatedProvider) CaptureOrder(_ context.Context, orderID string) (Capture, error) {
	p.mu.Lock()
	order, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return Capture{}, ErrOrderNotFound
	}
	return Capture{
		OrderID:     orderID,
		Status:      StatusCompleted,
		UserID:      order.userID,
		PackageID:   order.packageID,
		AmountCents: order.amountCents,
	}, nil
}
