package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/nerdneilsfield/dreamforge/internal/models"
)

const (
	DefaultPublicLimit = 20
	DefaultRecentLimit = 2
	maxListLimit       = 100
)

// Gallery records completed generations and serves gallery listings.
type Gallery struct {
	db *gorm.DB
}

func NewGallery(db *gorm.DB) *Gallery {
	return &Gallery{db: db}
}

// Record creates a gallery entry; id and creation time are assigned by the store.
func (g *Gallery) Record(ctx context.Context, userID int64, imageURL, prompt string, modelID int64, styleID *int64, isPublic bool) (models.Image, error) {
	entry := models.Image{
		UserID:   userID,
		Prompt:   prompt,
		ModelID:  modelID,
		StyleID:  styleID,
		ImageURL: imageURL,
		IsPublic: isPublic,
	}
	if err := g.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return models.Image{}, fmt.Errorf("record gallery entry: %w", err)
	}
	return entry, nil
}

// ListByUser returns every entry owned by userID, newest first.
func (g *Gallery) ListByUser(ctx context.Context, userID int64) ([]models.Image, error) {
	var out []models.Image
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list user images: %w", err)
	}
	return out, nil
}

// Recent returns the latest limit entries owned by userID.
func (g *Gallery) Recent(ctx context.Context, userID int64, limit int) ([]models.Image, error) {
	limit = clampLimit(limit, DefaultRecentLimit)
	var out []models.Image
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list recent images: %w", err)
	}
	return out, nil
}

// PublicFilter selects the ordering or style category of the public gallery.
type PublicFilter string

const (
	FilterNewest    PublicFilter = "newest"
	FilterTrending  PublicFilter = "trending"
	FilterMostLiked PublicFilter = "mostLiked"
	FilterFantasy   PublicFilter = "fantasy"
	FilterPortraits PublicFilter = "portraits"
	FilterAnime     PublicFilter = "anime"
)

// categoryStyles maps category filters to the style name they match.
var categoryStyles = map[PublicFilter]string{
	FilterFantasy:   "Fantasy",
	FilterPortraits: "Portrait",
	FilterAnime:     "Anime",
}

// ParsePublicFilter accepts the filter query value. Empty means newest.
func ParsePublicFilter(v string) (PublicFilter, bool) {
	f := PublicFilter(v)
	switch f {
	case "":
		return FilterNewest, true
	case FilterNewest, FilterTrending, FilterMostLiked, FilterFantasy, FilterPortraits, FilterAnime:
		return f, true
	}
	return "", false
}

// ListPublic pages through public entries. Trending has no signal of its own
// and is ordered like newest.
func (g *Gallery) ListPublic(ctx context.Context, filter PublicFilter, limit, offset int) ([]models.Image, error) {
	limit = clampLimit(limit, DefaultPublicLimit)
	if offset < 0 {
		offset = 0
	}
	q := g.db.WithContext(ctx).Where("images.is_public = ?", true)
	switch {
	case filter == FilterMostLiked:
		q = q.Order("images.likes DESC, images.id DESC")
	case categoryStyles[filter] != "":
		q = q.Joins("JOIN styles ON styles.id = images.style_id").
			Where("styles.name = ?", categoryStyles[filter]).
			Order("images.created_at DESC, images.id DESC")
	default:
		q = q.Order("images.created_at DESC, images.id DESC")
	}
	var out []models.Image
	if err := q.Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list public images (%s): %w", filter, err)
	}
	return out, nil
}

// SetVisibility changes an entry's visibility. Entries not owned by ownerID are reported as ErrNotFound.
func (g *Gallery) SetVisibility(ctx context.Context, entryID, ownerID int64, isPublic bool) (models.Image, error) {
	res := g.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ? AND user_id = ?", entryID, ownerID).
		UpdateColumn("is_public", isPublic)
	if res.Error != nil {
		return models.Image{}, fmt.Errorf("set visibility: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Image{}, ErrNotFound
	}
	var entry models.Image
	if err := g.db.WithContext(ctx).First(&entry, entryID).Error; err != nil {
		return models.Image{}, fmt.Errorf("reload entry: %w", err)
	}
	return entry, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
