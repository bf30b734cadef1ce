package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nerdneilsfield/dreamforge/internal/models"
)

// PurchaseStore applies completed credit top-ups.
type PurchaseStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPurchaseStore(db *gorm.DB, logger *zap.Logger) *PurchaseStore {
	return &PurchaseStore{db: db, logger: logger.Named("purchases")}
}

// ApplyTopUp records the purchase and adds its credits in one transaction.
// A purchase with the same orderID is applied at most once: replays return the existing
// row with applied == false and leave the balance untouched.
func (s *PurchaseStore) ApplyTopUp(ctx context.Context, userID int64, credits, amountCents int, orderID string) (models.CreditPurchase, bool, error) {
	if credits <= 0 {
		return models.CreditPurchase{}, false, fmt.Errorf("credits must be positive")
	}
	if orderID == "" {
		return models.CreditPurchase{}, false, fmt.Errorf("order id is required")
	}

	purchase := models.CreditPurchase{
		UserID:      userID,
		AmountCents: amountCents,
		Credits:     credits,
		OrderID:     orderID,
		Status:      models.PurchaseCompleted,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&purchase).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("create purchase: %w", err)
		}
		_, err := credit(tx, userID, credits, models.TxTopUp, orderID)
		return err
	})

	if errors.Is(err, ErrAlreadyExists) {
		existing, findErr := s.FindByOrderID(ctx, orderID)
		if findErr != nil {
			return models.CreditPurchase{}, false, findErr
		}
		s.logger.Warn("Top-up already applied", zap.String("order_id", orderID), zap.Int64("user_id", userID))
		return existing, false, nil
	}
	if err != nil {
		return models.CreditPurchase{}, false, err
	}

	s.logger.Info("Top-up applied", zap.Int64("user_id", userID), zap.Int("credits", credits), zap.String("order_id", orderID))
	return purchase, true, nil
}

func (s *PurchaseStore) FindByOrderID(ctx context.Context, orderID string) (models.CreditPurchase, error) {
	var p models.CreditPurchase
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CreditPurchase{}, ErrNotFound
	}
	if err != nil {
		return models.CreditPurchase{}, fmt.Errorf("query purchase: %w", err)
	}
	return p, nil
}

// ListByUser returns the user's purchases, newest first.
func (s *PurchaseStore) ListByUser(ctx context.Context, userID int64) ([]models.CreditPurchase, error) {
	var out []models.CreditPurchase
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return out, nil
}
