// Package payments sells credit packages and applies captured orders to the ledger.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/metrics"
	"github.com/nerdneilsfield/dreamforge/internal/models"
)

var (
	ErrUnknownPackage = errors.New("unknown credit package")
	ErrNotCompleted   = errors.New("payment not completed")
)

type Package struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Credits     int    `json:"credits"`
	PriceCents  int    `json:"priceCents"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Popular     bool   `json:"popular"`
}

// TopUpStore applies a completed purchase at most once per order id and lists them per user.
type TopUpStore interface {
	ApplyTopUp(ctx context.Context, userID int64, credits, amountCents int, orderID string) (models.CreditPurchase, bool, error)
	ListByUser(ctx context.Context, userID int64) ([]models.CreditPurchase, error)
}

type UserGetter interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
}

type CaptureResult struct {
	Purchase models.CreditPurchase `json:"purchase"`
	User     models.User           `json:"user"`
	// Applied is false when the order had already been applied before.
	Applied bool `json:"applied"`
}

type Service struct {
	packages  []Package
	byID      map[int64]Package
	provider  Provider
	purchases TopUpStore
	users     UserGetter
	logger    *zap.Logger
}

func NewService(pkgs []config.PackageConfig, provider Provider, purchases TopUpStore, users UserGetter, logger *zap.Logger) *Service {
	s := &Service{
		byID:      make(map[int64]Package, len(pkgs)),
		provider:  provider,
		purchases: purchases,
		users:     users,
		logger:    logger.Named("payments"),
	}
	for _, p := range pkgs {
		pkg := Package{
			ID:          p.ID,
			Name:        p.Name,
			Credits:     p.Credits,
			PriceCents:  p.PriceCents,
			Price:       fmt.Sprintf("%d.%02d", p.PriceCents/100, p.PriceCents%100),
			Description: p.Description,
			Popular:     p.Popular,
		}
		s.packages = append(s.packages, pkg)
		s.byID[pkg.ID] = pkg
	}
	sort.Slice(s.packages, func(i, j int) bool { return s.packages[i].ID < s.packages[j].ID })
	return s
}

func (s *Service) Packages() []Package {
	return append([]Package(nil), s.packages...)
}

func (s *Service) Package(id int64) (Package, error) {
	pkg, ok := s.byID[id]
	if !ok {
		return Package{}, ErrUnknownPackage
	}
	return pkg, nil
}

func (s *Service) CreateOrder(ctx context.Context, userID, packageID int64) (Order, error) {
	pkg, err := s.Package(packageID)
	if err != nil {
		return Order{}, err
	}
	order, err := s.provider.CreateOrder(ctx, userID, pkg)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("Order created", zap.Int64("user_id", userID), zap.Int64("package_id", pkg.ID), zap.String("order_id", order.ID))
	return order, nil
}

// CaptureOrder captures orderID and credits the package to userID.
// The order must have been created for the same user and package.
func (s *Service) CaptureOrder(ctx context.Context, userID int64, orderID string, packageID int64) (CaptureResult, error) {
	pkg, err := s.Package(packageID)
	if err != nil {
		return CaptureResult{}, err
	}

	capture, err := s.provider.CaptureOrder(ctx, orderID)
	if err != nil {
		return CaptureResult{}, err
	}
	if capture.UserID != userID || capture.PackageID != pkg.ID {
		s.logger.Warn("Capture does not match order",
			zap.String("order_id", orderID), zap.Int64("user_id", userID), zap.Int64("package_id", pkg.ID))
		return CaptureResult{}, ErrOrderNotFound
	}
	if capture.Status != StatusCompleted {
		return CaptureResult{}, ErrNotCompleted
	}

	purchase, applied, err := s.purchases.ApplyTopUp(ctx, userID, pkg.Credits, capture.AmountCents, orderID)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("apply top-up: %w", err)
	}
	if applied {
		metrics.AddCreditsPurchased(pkg.Credits)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("reload user: %w", err)
	}
	return CaptureResult{Purchase: purchase, User: user, Applied: applied}, nil
}

// Purchases lists the top-ups applied to userID, newest first.
func (s *Service) Purchases(ctx context.Context, userID int64) ([]models.CreditPurchase, error) {
	out, err := s.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.CreditPurchase{}
	}
	return out, nil
}
