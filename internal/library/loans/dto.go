package loans

import "time"

type CheckoutRequest struct {
	ISBN string `json:"isbn" binding:"required"`
}

type LoanResponse struct {
	ID           int64      `json:"id"`
	ULID         string     `json:"loan_ulid"`
	UserID       int64      `json:"user_id"`
	BookISBN     string     `json:"book_isbn"`
	BookTitle    string     `json:"book_title,omitempty"`
	Status       Status     `json:"status"`
	BorrowedAt   time.Time  `json:"borrowed_at"`
	DueDate      time.Time  `json:"due_date"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`
	ReturnMethod *string    `json:"return_method,omitempty"`
	RemindCount  int        `json:"remind_count"`
	LastRemindAt *time.Time `json:"last_remind_at,omitempty"`
	IsOverdue    bool       `json:"is_overdue"`
}

type ListResponse struct {
	Items      []LoanResponse `json:"items"`
	NextOffset *int           `json:"next_offset,omitempty"`
}

func ToResponse(l Loan, now time.Time) LoanResponse {
	res := LoanResponse{
		ID:          l.ID,
		ULID:        l.ULID,
		UserID:      l.UserID,
		BookISBN:    l.BookISBN,
		BookTitle:   l.BookTitle,
		Status:      l.Status,
		BorrowedAt:  l.BorrowedAt,
		DueDate:     l.DueDate,
		RemindCount: l.RemindCount,
		IsOverdue:   IsOverdue(l, now),
	}
	if l.ReturnedAt.Valid {
		t := l.ReturnedAt.Time
		res.ReturnedAt = &t
	}
	if l.ReturnMethod.Valid {
		m := l.ReturnMethod.String
		res.ReturnMethod = &m
	}
	if l.LastRemindAt.Valid {
		t := l.LastRemindAt.Time
		res.LastRemindAt = &t
	}
	return res
}

func toResponses(ls []Loan, now time.Time) []LoanResponse {
	out := make([]LoanResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, ToResponse(l, now))
	}
	return out
}
