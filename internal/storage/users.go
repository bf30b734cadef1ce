package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nerdneilsfield/dreamforge/internal/models"
)

// UserStore persists accounts.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser inserts a new user row. Duplicate usernames or emails yield ErrAlreadyExists.
func (s *UserStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrAlreadyExists
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *UserStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.first(ctx, "email = ?", email)
}

// SetLanguage stores the user's preferred message language.
func (s *UserStore) SetLanguage(ctx context.Context, id int64, lang string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn("language", lang)
	if res.Error != nil {
		return fmt.Errorf("set language: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) first(ctx context.Context, query string, arg any) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}
