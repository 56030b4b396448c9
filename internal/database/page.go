package database

import (
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

type Paged[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Pages    int   `json:"pages"`
}

// paginate counts the filtered query, then fetches one page of it.
func paginate[T any](query *gorm.DB, page Page, order string) (*Paged[T], error) {
	page = page.normalize()
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	items := make([]T, 0, page.Size)
	if err := query.Order(order).Offset((page.Number - 1) * page.Size).Limit(page.Size).Find(&items).Error; err != nil {
		return nil, err
	}

	pages := int((total + int64(page.Size) - 1) / int64(page.Size))
	return &Paged[T]{
		Items:    items,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
		Pages:    pages,
	}, nil
}
