package loans

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"LIBRA-backend/internal/platform/apierr"
	"LIBRA-backend/internal/platform/auth"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterRoutes はログインユーザー向け。RequireAuth の後ろに置く。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/borrows", h.Checkout)
	r.PUT("/borrows/:id/return", h.Return)
	r.GET("/borrows/my", h.ListMine)
}

// RegisterAdminRoutes は管理者向け。RequireRole(admin) の後ろに置く。
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/borrows", h.ListAdmin)
	r.GET("/borrows/counts", h.Counts)
	r.PUT("/borrows/:id/force-return", h.ForceReturn)
	r.GET("/books/:isbn/history", h.BookHistory)
	r.GET("/stats", h.Stats)
	r.GET("/export", h.Export)
	r.GET("/users/:id/borrows", h.UserLoans)
	r.GET("/activities", h.RecentActivities)
}

func (h *Handler) Checkout(c *gin.Context) {
	p, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("isbn is required")))
		return
	}

	l, err := h.svc.Checkout(c.Request.Context(), p.UserID, req.ISBN)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.Header("Location", "/api/v1/borrows/"+strconv.FormatInt(l.ID, 10))
	c.JSON(http.StatusCreated, ToResponse(l, h.svc.Now()))
}

func (h *Handler) Return(c *gin.Context) {
	p, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.doReturn(c, Actor{UserID: p.UserID, IsAdmin: p.IsAdmin()})
}

// ForceReturn は管理者による代理返却。
func (h *Handler) ForceReturn(c *gin.Context) {
	p, _ := auth.CurrentUser(c)
	h.doReturn(c, Actor{UserID: p.UserID, IsAdmin: true})
}

func (h *Handler) doReturn(c *gin.Context, actor Actor) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("id must be a positive integer")))
		return
	}
	l, err := h.svc.Return(c.Request.Context(), id, actor)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, ToResponse(l, h.svc.Now()))
}

func (h *Handler) ListMine(c *gin.Context) {
	p, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	status, err := ParseStatusFilter(c.Query("status"), FilterAll)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	items, err := h.svc.ListMine(c.Request.Context(), p.UserID, status)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: toResponses(items, h.svc.Now())})
}

func (h *Handler) ListAdmin(c *gin.Context) {
	status, err := ParseStatusFilter(c.Query("status"), FilterActive)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	limit := atoiDef(c.Query("limit"), 100)
	offset := atoiDef(c.Query("offset"), 0)

	items, err := h.svc.ListAdmin(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	res := ListResponse{Items: toResponses(items, h.svc.Now())}
	if len(items) == limit {
		next := offset + len(items)
		res.NextOffset = &next
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Counts(c *gin.Context) {
	counts, err := h.svc.Counts(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) BookHistory(c *gin.Context) {
	items, err := h.svc.BookHistory(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: toResponses(items, h.svc.Now())})
}

// Stats は当日(設定タイムゾーンの日付)の貸出数などを返す。
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.TodayStats(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	counts, err := h.svc.Counts(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active_borrows": counts.Active,
		"overdue":        counts.Overdue,
		"today_borrows":  st.NewBorrows,
		"today_returns":  st.Returns,
		"total_books":    st.TotalBooks,
	})
}

// Export: type=borrows|overdue, encoding=utf8|gbk
func (h *Handler) Export(c *gin.Context) {
	status := FilterAll
	switch c.DefaultQuery("type", "borrows") {
	case "borrows":
	case "overdue":
		status = FilterOverdue
	default:
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("type must be borrows or overdue")))
		return
	}
	enc := Encoding(c.DefaultQuery("encoding", string(EncodingUTF8)))
	if enc != EncodingUTF8 && enc != EncodingGBK {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("encoding must be utf8 or gbk")))
		return
	}

	items, err := h.svc.ExportAll(c.Request.Context(), status)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}

	now := h.svc.Now()
	var b bytes.Buffer
	if err := WriteCSV(&b, items, now, enc); err != nil {
		c.JSON(http.StatusInternalServerError, apierr.Body(apierr.ErrInternal("export failed")))
		return
	}
	charset := "utf-8"
	if enc == EncodingGBK {
		charset = "gbk"
	}
	filename := fmt.Sprintf("%s_%s.csv", c.DefaultQuery("type", "borrows"), now.Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset="+charset, b.Bytes())
}

func (h *Handler) UserLoans(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("id must be a positive integer")))
		return
	}
	items, err := h.svc.UserLoans(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	now := h.svc.Now()
	c.JSON(http.StatusOK, gin.H{
		"items": toResponses(items, now),
		"stats": summarize(items, now),
	})
}

func (h *Handler) RecentActivities(c *gin.Context) {
	items, err := h.svc.RecentActivities(c.Request.Context(), atoiDef(c.Query("limit"), 10))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func atoiDef(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
