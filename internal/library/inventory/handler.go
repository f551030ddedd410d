package inventory

import (
	"net/http"
	"strconv"

	"LIBRA-backend/internal/platform/apierr"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterRoutes は閲覧用（認証不要）。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/books", h.Search)
	r.GET("/books/recent", h.ListRecent)
	r.GET("/books/:isbn", h.GetBook)
}

func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/books", h.ListBooks)
	r.POST("/books", h.CreateBook)
	r.PUT("/books/:isbn", h.UpdateBook)
	r.DELETE("/books/:isbn", h.DeleteBook)
	r.PUT("/books/:isbn/stock", h.AdjustStock)
}

func (h *Handler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("invalid json")))
		return
	}
	res, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.Header("Location", "/api/v1/books/"+res.ISBN)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBook(c *gin.Context) {
	res, err := h.svc.GetBook(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListRecent(c *gin.Context) {
	res, err := h.svc.ListRecent(c.Request.Context(), pageOf(c))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Search(c *gin.Context) {
	res, err := h.svc.Search(c.Request.Context(), c.Query("keyword"), pageOf(c))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListBooks: ?keyword=&stock=all|low|zero
func (h *Handler) ListBooks(c *gin.Context) {
	stock, ok := ParseStockFilter(c.Query("stock"))
	if !ok {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("stock must be one of all, low, zero")))
		return
	}
	res, err := h.svc.ListBooks(c.Request.Context(), c.Query("keyword"), stock, pageOf(c))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateBook(c *gin.Context) {
	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("invalid json")))
		return
	}
	res, err := h.svc.UpdateBook(c.Request.Context(), c.Param("isbn"), req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteBook(c *gin.Context) {
	if err := h.svc.DeleteBook(c.Request.Context(), c.Param("isbn")); err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AdjustStock(c *gin.Context) {
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("stock is required")))
		return
	}
	res, err := h.svc.AdjustStock(c.Request.Context(), c.Param("isbn"), *req.Stock)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func pageOf(c *gin.Context) Page {
	return Page{
		Limit:  atoiDef(c.Query("limit"), 20),
		Offset: atoiDef(c.Query("offset"), 0),
	}
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
