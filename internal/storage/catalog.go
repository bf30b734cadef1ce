package storage

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/nerdneilsfield/dreamforge/internal/models"
)

// Catalog serves the immutable models and styles. Rows are read once at construction.
type Catalog struct {
	models map[int64]models.Model
	styles map[int64]models.Style
	// sorted by id
	modelList []models.Model
	styleList []models.Style
}

// LoadCatalog reads every model and style from db.
func LoadCatalog(ctx context.Context, db *gorm.DB) (*Catalog, error) {
	var ms []models.Model
	if err := db.WithContext(ctx).Order("id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	var ss []models.Style
	if err := db.WithContext(ctx).Order("id").Find(&ss).Error; err != nil {
		return nil, fmt.Errorf("load styles: %w", err)
	}
	return NewCatalog(ms, ss), nil
}

// NewCatalog builds a catalog from in-memory rows.
func NewCatalog(ms []models.Model, ss []models.Style) *Catalog {
	c := &Catalog{
		models: make(map[int64]models.Model, len(ms)),
		styles: make(map[int64]models.Style, len(ss)),
	}
	for _, m := range ms {
		c.models[m.ID] = m
		c.modelList = append(c.modelList, m)
	}
	for _, s := range ss {
		c.styles[s.ID] = s
		c.styleList = append(c.styleList, s)
	}
	sort.Slice(c.modelList, func(i, j int) bool { return c.modelList[i].ID < c.modelList[j].ID })
	sort.Slice(c.styleList, func(i, j int) bool { return c.styleList[i].ID < c.styleList[j].ID })
	return c
}

// GetModel 按 id 查找模型，不存在时返回 ErrNotFound
func (c *Catalog) GetModel(_ context.Context, id int64) (models.Model, error) {
	m, ok := c.models[id]
	if !ok {
		return models.Model{}, ErrNotFound
	}
	return m, nil
}

// GetStyle 按 id 查找风格，不存在时返回 ErrNotFound
func (c *Catalog) GetStyle(_ context.Context, id int64) (models.Style, error) {
	s, ok := c.styles[id]
	if !ok {
		return models.Style{}, ErrNotFound
	}
	return s, nil
}

func (c *Catalog) ListModels(_ context.Context) ([]models.Model, error) {
	return append([]models.Model(nil), c.modelList...), nil
}

func (c *Catalog) ListStyles(_ context.Context) ([]models.Style, error) {
	return append([]models.Style(nil), c.styleList...), nil
}
