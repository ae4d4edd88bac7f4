package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/book-service/internal/batch"
	"github.com/psds-microservice/book-service/internal/service"
	"github.com/psds-microservice/book-service/internal/validator"
)

const jsonContentType = "application/json; charset=utf-8"

type BookHandler struct {
	svc       service.BookServicer
	validator *validator.Validator
}

func NewBookHandler(svc service.BookServicer, v *validator.Validator) *BookHandler {
	return &BookHandler{
		svc:       svc,
		validator: v,
	}
}

func invalidBody(err error) error {
	return fmt.Errorf("%w: invalid body: %v", validator.ErrValidation, err)
}

func (h *BookHandler) relay(c *gin.Context, body string, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, jsonContentType, []byte(body))
}

// Go GET /book/go
func (h *BookHandler) Go(c *gin.Context) {
	c.String(http.StatusOK, "go")
}

// Info GET /book/es
func (h *BookHandler) Info(c *gin.Context) {
	body, err := h.svc.Info(c.Request.Context())
	h.relay(c, body, err)
}

// InfoAsync GET /book/es/asyn. Отвечает сразу, не дожидаясь кластера.
func (h *BookHandler) InfoAsync(c *gin.Context) {
	h.svc.InfoAsync(c.Request.Context())
	c.Status(http.StatusOK)
}

// Add POST /book/add
func (h *BookHandler) Add(c *gin.Context) {
	var in service.Book
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, invalidBody(err))
		return
	}
	if err := h.validator.ValidateBook(&in); err != nil {
		writeError(c, err)
		return
	}
	body, err := h.svc.Add(c.Request.Context(), &in)
	h.relay(c, body, err)
}

// ParallelAddOrUpdate POST /book/parallAddOrUpdate
// Отвечает JSON-массивом строк в порядке входных книг; пустая строка означает, что книга не записана.
func (h *BookHandler) ParallelAddOrUpdate(c *gin.Context) {
	var in []service.Book
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, invalidBody(err))
		return
	}
	if err := h.validator.ValidateBatch(in); err != nil {
		writeError(c, err)
		return
	}

	results, err := h.svc.ParallelAddOrUpdate(c.Request.Context(), in)
	if results == nil {
		writeError(c, err)
		return
	}
	sum := batch.Summarize(results)
	c.Header("X-Batch-Total", strconv.Itoa(sum.Total))
	c.Header("X-Batch-Failed", strconv.Itoa(sum.Failed))
	status := http.StatusOK
	if err != nil {
		_, status = Classify(err)
		logError(c, status, err)
	}
	c.JSON(status, results)
}

// Get GET /book/:id
func (h *BookHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if err := h.validator.ValidateID(id); err != nil {
		writeError(c, err)
		return
	}
	body, err := h.svc.Get(c.Request.Context(), id)
	h.relay(c, body, err)
}

// Update PUT /book/:id
func (h *BookHandler) Update(c *gin.Context) {
	id := c.Param("id")
	var in service.Book
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, invalidBody(err))
		return
	}
	if err := h.validator.ValidateUpdate(id, &in); err != nil {
		writeError(c, err)
		return
	}
	body, err := h.svc.Update(c.Request.Context(), id, &in)
	h.relay(c, body, err)
}

// UpdateName PUT /book/update2/:id?name=...
func (h *BookHandler) UpdateName(c *gin.Context) {
	id := c.Param("id")
	name := c.Query("name")
	if err := h.validator.ValidateID(id); err != nil {
		writeError(c, err)
		return
	}
	if err := h.validator.ValidateName(name); err != nil {
		writeError(c, err)
		return
	}
	body, err := h.svc.UpdateName(c.Request.Context(), id, name)
	h.relay(c, body, err)
}

// Delete DELETE /book/:id
func (h *BookHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.validator.ValidateID(id); err != nil {
		writeError(c, err)
		return
	}
	body, err := h.svc.Delete(c.Request.Context(), id)
	h.relay(c, body, err)
}

// Query GET /book/query
func (h *BookHandler) Query(c *gin.Context) {
	body, err := h.svc.Query(c.Request.Context())
	h.relay(c, body, err)
}

// QueryMatch GET /book/queryMatch?text=...&field=name&from=0&size=2
// name=... принимается как сокращение для field=name.
func (h *BookHandler) QueryMatch(c *gin.Context) {
	field := c.Query("field")
	text := c.Query("text")
	if text == "" && field == "" {
		if name := c.Query("name"); name != "" {
			field, text = "name", name
		}
	}
	from, errFrom := strconv.Atoi(c.DefaultQuery("from", strconv.Itoa(service.DefaultMatchFrom)))
	size, errSize := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(service.DefaultMatchSize)))
	if errFrom != nil || errSize != nil {
		writeError(c, fmt.Errorf("%w: from and size must be integers", validator.ErrValidation))
		return
	}
	if err := h.validator.ValidateMatchQuery(field, text, from, size); err != nil {
		writeError(c, err)
		return
	}
	body, err := h.svc.QueryMatch(c.Request.Context(), service.MatchQuery{Field: field, Text: text, From: from, Size: size})
	h.relay(c, body, err)
}
