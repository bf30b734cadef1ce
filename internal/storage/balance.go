package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nerdneilsfield/dreamforge/internal/models"
)

// GormLedger 使用 GORM 管理用户积分余额，每次变动都会写入一条 CreditTransaction
type GormLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormLedger(db *gorm.DB, logger *zap.Logger) *GormLedger {
	return &GormLedger{db: db, logger: logger.Named("ledger")}
}

// GetBalance returns the user's current credits, or ErrNotFound.
func (l *GormLedger) GetBalance(ctx context.Context, userID int64) (int, error) {
	var u models.User
	err := l.db.WithContext(ctx).Select("id", "credits").First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return u.Credits, nil
}

// SetBalance overwrites the balance unconditionally. Last writer wins; generation never uses it.
func (l *GormLedger) SetBalance(ctx context.Context, userID int64, credits int) (models.User, error) {
	if credits < 0 {
		return models.User{}, fmt.Errorf("credits must not be negative")
	}
	var user models.User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load user: %w", err)
		}
		delta := credits - user.Credits
		if err := tx.Model(&models.User{}).Where("id = ?", userID).UpdateColumn("credits", credits).Error; err != nil {
			return fmt.Errorf("set balance: %w", err)
		}
		user.Credits = credits
		return journal(tx, userID, delta, credits, models.TxSet, "")
	})
	if err != nil {
		return models.User{}, err
	}
	l.logger.Info("Balance set", zap.Int64("user_id", userID), zap.Int("credits", credits))
	return user, nil
}

// DecrementIfAtLeast subtracts amount only if the balance covers it, in a single conditional UPDATE.
// It returns the balance after the call and whether the decrement was applied.
func (l *GormLedger) DecrementIfAtLeast(ctx context.Context, userID int64, amount int, reference string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("amount must be positive")
	}

	var balance int
	applied := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND credits >= ?", userID, amount).
			UpdateColumn("credits", gorm.Expr("credits - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("decrement balance: %w", res.Error)
		}

		var u models.User
		if err := tx.Select("id", "credits").First(&u, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("reload balance: %w", err)
		}
		balance = u.Credits
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return journal(tx, userID, -amount, balance, models.TxGeneration, reference)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.Error("Balance deduction transaction failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return 0, false, err
	}
	if applied {
		l.logger.Debug("Credits reserved", zap.Int64("user_id", userID), zap.Int("amount", amount), zap.Int("balance", balance))
	}
	return balance, applied, nil
}

// Refund gives back credits taken by DecrementIfAtLeast.
func (l *GormLedger) Refund(ctx context.Context, userID int64, amount int, reference string) (int, error) {
	balance, err := l.add(ctx, userID, amount, models.TxRefund, reference)
	if err != nil {
		l.logger.Error("Refund failed", zap.Int64("user_id", userID), zap.Int("amount", amount), zap.Error(err))
		return 0, err
	}
	l.logger.Info("Credits refunded", zap.Int64("user_id", userID), zap.Int("amount", amount), zap.Int("balance", balance))
	return balance, nil
}

// Grant adds credits on behalf of an administrator.
func (l *GormLedger) Grant(ctx context.Context, userID int64, amount int, note string) (int, error) {
	balance, err := l.add(ctx, userID, amount, models.TxGrant, note)
	if err != nil {
		return 0, err
	}
	l.logger.Info("Credits granted", zap.Int64("user_id", userID), zap.Int("amount", amount), zap.Int("balance", balance))
	return balance, nil
}

// History lists the user's journal, newest first.
func (l *GormLedger) History(ctx context.Context, userID int64, limit, offset int) ([]models.CreditTransaction, error) {
	var txs []models.CreditTransaction
	q := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("list credit history: %w", err)
	}
	return txs, nil
}

func (l *GormLedger) add(ctx context.Context, userID int64, amount int, kind, reference string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	var balance int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = credit(tx, userID, amount, kind, reference)
		return err
	})
	return balance, err
}

// credit increments the balance and journals it inside tx.
func credit(tx *gorm.DB, userID int64, amount int, kind, reference string) (int, error) {
	res := tx.Model(&models.User{}).Where("id = ?", userID).UpdateColumn("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return 0, fmt.Errorf("increment balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var u models.User
	if err := tx.Select("id", "credits").First(&u, userID).Error; err != nil {
		return 0, fmt.Errorf("reload balance: %w", err)
	}
	if err := journal(tx, userID, amount, u.Credits, kind, reference); err != nil {
		return 0, err
	}
	return u.Credits, nil
}

func journal(tx *gorm.DB, userID int64, delta, balanceAfter int, kind, reference string) error {
	entry := models.CreditTransaction{
		UserID:       userID,
		Delta:        delta,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		Reference:    reference,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write credit journal: %w", err)
	}
	return nil
}
