package models

import "time"

// User captures an authenticated identity and its credit balance.
type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Credits      int       `gorm:"not null;default:0;check:credits >= 0" json:"credits"`
	Language     string    `gorm:"not null;default:''" json:"language,omitempty"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Model is a backing image-generation configuration. Seeded once, read-only afterwards.
type Model struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	DisplayName string `gorm:"not null" json:"displayName"`
	Description string `json:"description"`
	// ModelID is the identifier the inference provider knows the model by.
	ModelID    string `gorm:"not null" json:"modelId"`
	CreditCost int    `gorm:"not null" json:"creditCost"`
	Tier       string `gorm:"not null" json:"tier"`
	IsPremium  bool   `gorm:"not null;default:false" json:"isPremium"`
}

// Style is a named prompt modifier applied before inference.
type Style struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name           string `gorm:"not null" json:"name"`
	Description    string `json:"description"`
	PromptModifier string `json:"promptModifier,omitempty"`
}

// Image is a gallery entry: one completed generation.
type Image struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"not null;index" json:"userId"`
	Prompt    string    `gorm:"not null" json:"prompt"`
	ModelID   int64     `gorm:"not null" json:"modelId"`
	StyleID   *int64    `json:"styleId"`
	ImageURL  string    `gorm:"not null" json:"imageUrl"`
	IsPublic  bool      `gorm:"not null;default:false;index" json:"isPublic"`
	Likes     int       `gorm:"not null;default:0" json:"likes"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// Credit transaction kinds.
const (
	TxGeneration = "generation"
	TxRefund     = "refund"
	TxTopUp      = "topup"
	TxGrant      = "grant"
	TxSet        = "set"
)

// CreditTransaction journals one balance change.
type CreditTransaction struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"not null;index" json:"userId"`
	Delta        int       `gorm:"not null" json:"delta"`
	BalanceAfter int       `gorm:"not null" json:"balanceAfter"`
	Kind         string    `gorm:"not null" json:"kind"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Purchase statuses.
const (
	PurchaseCompleted = "COMPLETED"
)

// CreditPurchase records an applied top-up. OrderID is unique so a top-up applies at most once.
type CreditPurchase struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	UserID      int64     `gorm:"not null;index" json:"userId"`
	AmountCents int       `gorm:"not null" json:"amount"`
	Credits     int       `gorm:"not null" json:"credits"`
	OrderID     string    `gorm:"uniqueIndex;not null" json:"paypalOrderId"`
	Status      string    `gorm:"not null" json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
