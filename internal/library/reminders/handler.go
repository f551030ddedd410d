package reminders

import (
	"errors"
	"net/http"
	"strconv"

	"LIBRA-backend/internal/library/loans"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/platform/apierr"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	engine *Engine
}

func RegisterAdminRoutes(r gin.IRoutes, engine *Engine) {
	h := &Handler{engine: engine}
	r.POST("/borrows/:id/remind", h.RemindOne)
	r.GET("/reminders/preview", h.Preview)
}

type noticeResponse struct {
	LoanID    int64               `json:"loan_id"`
	UserID    int64               `json:"user_id"`
	BookTitle string              `json:"book_title"`
	DueDate   string              `json:"due_date"`
	Kind      notify.TemplateKind `json:"kind"`
	Days      int                 `json:"days"`
}

func toNoticeResponse(n Notice) noticeResponse {
	p := n.Payload()
	return noticeResponse{
		LoanID:    n.Loan.ID,
		UserID:    n.Loan.UserID,
		BookTitle: p.Title,
		DueDate:   p.DueDate,
		Kind:      n.Kind,
		Days:      n.Days,
	}
}

func (h *Handler) RemindOne(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("id must be a positive integer")))
		return
	}

	n, err := h.engine.RemindOne(c.Request.Context(), id)
	var de *notify.DeliveryError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"sent": true, "notice": toNoticeResponse(n)})
	case errors.As(err, &de):
		// 送信失敗は業務エラーではないので 200 で理由を返す
		c.JSON(http.StatusOK, gin.H{"sent": false, "reason": de.Reason, "notice": toNoticeResponse(n)})
	case errors.Is(err, loans.ErrLoanNotActive):
		c.JSON(http.StatusConflict, apierr.Body(err))
	default:
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
	}
}

// Preview は現時点でスイープが通知する対象を返す（送信はしない）。
func (h *Handler) Preview(c *gin.Context) {
	notices, err := h.engine.Candidates(c.Request.Context(), h.engine.clock.Now())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	out := make([]noticeResponse, 0, len(notices))
	for _, n := range notices {
		out = append(out, toNoticeResponse(n))
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "total": len(out)})
}
