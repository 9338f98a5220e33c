package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
	"github.com/begoneskadedjur/kundportal-sub013/service"
)

const maxImportPageSize = 500

// ContractImporter is the part of service.Importer the import endpoint uses
type ContractImporter interface {
	List(ctx context.Context, page, pageSize int) (*service.ImportListResult, error)
	Import(ctx context.Context, ids []string) *service.ImportSummary
}

type ImportHandler struct {
	importer        ContractImporter
	defaultPageSize int
}

func NewImportHandler(importer ContractImporter, defaultPageSize int) *ImportHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	return &ImportHandler{importer: importer, defaultPageSize: defaultPageSize}
}

// ImportRequest is the POST body of the import endpoint
type ImportRequest struct {
	Action      string   `json:"action"`
	ContractIDs []string `json:"contractIds"`
	Page        int      `json:"page"`
	Limit       int      `json:"limit"`
}

// Handle serves GET (list) and POST (list or import); registered with Any
func (h *ImportHandler) Handle(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodGet:
		page, err := queryInt(c, "page", 1)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return
		}
		limit, err := queryInt(c, "limit", h.defaultPageSize)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		h.list(c, page, limit)
	case http.MethodPost:
		var req ImportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		switch req.Action {
		case "list":
			h.list(c, req.Page, req.Limit)
		case "import":
			if len(req.ContractIDs) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "contractIds is required"})
				return
			}
			h.importContracts(c, req.ContractIDs)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action"})
		}
	default:
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	}
}

func (h *ImportHandler) list(c *gin.Context, page, limit int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = h.defaultPageSize
	}
	if limit > maxImportPageSize {
		limit = maxImportPageSize
	}

	result, err := h.importer.List(c.Request.Context(), page, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list importable contracts", "error", err)
		if errors.Is(err, service.ErrProviderUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list documents from provider"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list importable contracts"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ImportHandler) importContracts(c *gin.Context, ids []string) {
	summary := h.importer.Import(c.Request.Context(), ids)
	c.JSON(http.StatusOK, gin.H{
		"success": summary.Failed == 0,
		"summary": gin.H{
			"total":      len(summary.Results),
			"successful": summary.Successful,
			"failed":     summary.Failed,
			"contracts":  summary.Contracts,
			"offers":     summary.Offers,
		},
		"results": summary.Results,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
