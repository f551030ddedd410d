package inventory

import "time"

type CreateBookRequest struct {
	ISBN      string  `json:"isbn" binding:"required"`
	Title     string  `json:"title" binding:"required,max=200"`
	Author    *string `json:"author,omitempty"`
	Publisher *string `json:"publisher,omitempty"`
	Location  *string `json:"location,omitempty"`
	Total     *int    `json:"total,omitempty"` // 未指定なら 1
}

// UpdateBookRequest は書誌情報の部分更新。stock は受け付けない。
type UpdateBookRequest struct {
	Title     *string `json:"title,omitempty" binding:"omitempty,max=200"`
	Author    *string `json:"author,omitempty"`
	Publisher *string `json:"publisher,omitempty"`
	Location  *string `json:"location,omitempty"`
}

type AdjustStockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}

type BookResponse struct {
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	Author    *string   `json:"author,omitempty"`
	Publisher *string   `json:"publisher,omitempty"`
	Location  *string   `json:"location,omitempty"`
	Stock     int       `json:"stock"`
	Total     int       `json:"total"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type ListResponse struct {
	Items      []BookResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset *int           `json:"next_offset,omitempty"`
}
