package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/catalogcdc/internal/catalog/application"
	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/pkg/utils"
)

const (
	headerUserID         = "X-User-Id"
	headerIdempotencyKey = "Idempotency-Key"
)

// BookHandler encapsula los endpoints HTTP del catálogo.
type BookHandler struct {
	service *application.CatalogService
}

func NewBookHandler(service *application.CatalogService) *BookHandler {
	return &BookHandler{service: service}
}

// statusFor traduce los errores de dominio a códigos HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidBook),
		errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrBatchValidation),
		errors.Is(err, domain.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBookAlreadyExists), errors.Is(err, domain.ErrDuplicateISBN):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPublish):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func sendServiceError(c *gin.Context, err error) {
	utils.SendError(c, statusFor(err), err.Error())
}

// CreateBook endpoint POST /books
func (h *BookHandler) CreateBook(c *gin.Context) {
	var draft domain.BookDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	book, err := h.service.CreateBook(c.Request.Context(), draft)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, book)
}

// GetBook endpoint GET /books/:id
func (h *BookHandler) GetBook(c *gin.Context) {
	book, err := h.service.GetBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, book)
}

// ListBooks endpoint GET /books?page=&size=&sortBy=&sortDirection=
func (h *BookHandler) ListBooks(c *gin.Context) {
	var p domain.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	page, err := h.service.ListBooks(c.Request.Context(), p)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, page)
}

// SearchBooks endpoint POST /books/search
func (h *BookHandler) SearchBooks(c *gin.Context) {
	var search domain.BookSearch
	if !bindOptionalJSON(c, &search) {
		return
	}

	page, err := h.service.SearchBooks(c.Request.Context(), search)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, page)
}

// byFieldRequest es el cuerpo de /books/search/by-*. Los query params
// (categories, language, uploadedBy, page, size) tienen prioridad.
type byFieldRequest struct {
	domain.Pagination
	Categories []string `json:"categories"`
	Language   string   `json:"language"`
	UploadedBy string   `json:"uploadedBy"`
}

func (h *BookHandler) bindByField(c *gin.Context) (byFieldRequest, bool) {
	var req byFieldRequest
	if !bindOptionalJSON(c, &req) {
		return req, false
	}
	if v := c.Query("categories"); v != "" {
		req.Categories = strings.Split(v, ",")
	}
	if v := c.Query("language"); v != "" {
		req.Language = v
	}
	if v := c.Query("uploadedBy"); v != "" {
		req.UploadedBy = v
	}
	for name, dst := range map[string]*int{"page": &req.Page, "size": &req.Size} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			utils.SendBadRequest(c, name+" must be an integer")
			return req, false
		}
		*dst = n
	}
	return req, true
}

// BooksByCategory endpoint POST /books/search/by-category
func (h *BookHandler) BooksByCategory(c *gin.Context) {
	req, ok := h.bindByField(c)
	if !ok {
		return
	}
	page, err := h.service.BooksByCategory(c.Request.Context(), req.Categories, req.Pagination)
	sendPage(c, page, err)
}

// BooksByLanguage endpoint POST /books/search/by-language
func (h *BookHandler) BooksByLanguage(c *gin.Context) {
	req, ok := h.bindByField(c)
	if !ok {
		return
	}
	page, err := h.service.BooksByLanguage(c.Request.Context(), req.Language, req.Pagination)
	sendPage(c, page, err)
}

// BooksByUploader endpoint POST /books/search/by-uploader
func (h *BookHandler) BooksByUploader(c *gin.Context) {
	req, ok := h.bindByField(c)
	if !ok {
		return
	}
	page, err := h.service.BooksByUploader(c.Request.Context(), req.UploadedBy, req.Pagination)
	sendPage(c, page, err)
}

func sendPage(c *gin.Context, page application.BookPage, err error) {
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, page)
}

// CountBooks endpoint GET /books/count
func (h *BookHandler) CountBooks(c *gin.Context) {
	n, err := h.service.CountBooks(c.Request.Context())
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, n)
}

// BookExists endpoint GET /books/:id/exists
func (h *BookHandler) BookExists(c *gin.Context) {
	ok, err := h.service.BookExists(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, ok)
}

// bindOptionalJSON acepta un cuerpo vacío; si hay cuerpo tiene que ser JSON válido.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		utils.SendBadRequest(c, err.Error())
		return false
	}
	return true
}

// UpdateBook endpoint PUT /books/:id
func (h *BookHandler) UpdateBook(c *gin.Context) {
	var patch domain.BookPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	book, err := h.service.UpdateBook(c.Request.Context(), c.Param("id"), patch, c.GetHeader(headerUserID))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, book)
}

// DeleteBook endpoint DELETE /books/:id (borrado lógico)
func (h *BookHandler) DeleteBook(c *gin.Context) {
	if err := h.service.DeleteBook(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID)); err != nil {
		sendServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ChangeStatus endpoint PATCH /books/:id/status
func (h *BookHandler) ChangeStatus(c *gin.Context) {
	var req struct {
		Status domain.BookStatus `json:"status" binding:"required"`
		Reason string            `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	book, err := h.service.ChangeStatus(c.Request.Context(), c.Param("id"), req.Status, req.Reason, c.GetHeader(headerUserID))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, book)
}

// IncrementDownloads endpoint POST /books/:id/downloads
func (h *BookHandler) IncrementDownloads(c *gin.Context) {
	book, err := h.service.IncrementDownloads(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, book)
}

// UpdateRating endpoint PUT /books/:id/rating
func (h *BookHandler) UpdateRating(c *gin.Context) {
	var req struct {
		AverageRating float64 `json:"averageRating" binding:"gte=0,lte=5"`
		ReviewCount   int     `json:"reviewCount" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	book, err := h.service.UpdateRating(c.Request.Context(), c.Param("id"), req.AverageRating, req.ReviewCount)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, book)
}

// ProcessBatch endpoint POST /books/batch
func (h *BookHandler) ProcessBatch(c *gin.Context) {
	var req domain.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader(headerIdempotencyKey)
	}
	if req.UserID == "" {
		req.UserID = c.GetHeader(headerUserID)
	}

	report, err := h.service.ProcessBatch(c.Request.Context(), req)
	if err != nil {
		if report != nil {
			utils.SendErrorWithData(c, statusFor(err), err.Error(), report)
			return
		}
		sendServiceError(c, err)
		return
	}

	status := http.StatusOK
	if report.PartialFailure() {
		status = http.StatusMultiStatus
	}
	utils.SendSuccess(c, status, report)
}

// HealthHandler expone el estado de los componentes.
type HealthHandler struct {
	health *application.HealthService
}

func NewHealthHandler(health *application.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// Check endpoint GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	if !report.Up() {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}
