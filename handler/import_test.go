package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/begoneskadedjur/kundportal-sub013/middleware"
	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/service"
)

type fakeImporter struct {
	listErr   error
	listPage  int
	listLimit int
	imported  []string
}

func (f *fakeImporter) List(ctx context.Context, page, pageSize int) (*service.ImportListResult, error) {
	f.listPage, f.listLimit = page, pageSize
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &service.ImportListResult{
		Contracts: []service.ImportCandidate{{ID: "1", Name: "Avtal", DocumentType: model.TypeContract}},
		Page:      page,
		Limit:     pageSize,
	}, nil
}

func (f *fakeImporter) Import(ctx context.Context, ids []string) *service.ImportSummary {
	f.imported = ids
	summary := &service.ImportSummary{}
	for _, id := range ids {
		ok := id != "bad"
		r := service.ImportResult{ID: id, Success: ok}
		if ok {
			summary.Successful++
			summary.Contracts++
		} else {
			r.Error = "not found"
			summary.Failed++
		}
		summary.Results = append(summary.Results, r)
	}
	return summary
}

func newImportRouter(t *testing.T, importer ContractImporter) (*gin.Engine, string) {
	t.Helper()
	cfg := testConfig()
	token, _, err := middleware.GenerateToken("anna", middleware.RoleOperator, &cfg.Auth)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	router := gin.New()
	protected := router.Group("/api", middleware.AuthMiddleware(&cfg.Auth), middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOperator))
	protected.Any("/contracts/import", NewImportHandler(importer, 25).Handle)
	return router, token
}

func TestImportHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		target         string
		body           string
		expectedStatus int
		expectedPage   int
		expectedLimit  int
	}{
		{"get list defaults", http.MethodGet, "/api/contracts/import", "", http.StatusOK, 1, 25},
		{"get list paged", http.MethodGet, "/api/contracts/import?page=3&limit=10", "", http.StatusOK, 3, 10},
		{"get list clamps limit", http.MethodGet, "/api/contracts/import?limit=9999", "", http.StatusOK, 1, maxImportPageSize},
		{"get invalid page", http.MethodGet, "/api/contracts/import?page=abc", "", http.StatusBadRequest, 0, 0},
		{"post list", http.MethodPost, "/api/contracts/import", `{"action":"list","page":2,"limit":5}`, http.StatusOK, 2, 5},
		{"post import", http.MethodPost, "/api/contracts/import", `{"action":"import","contractIds":["1","2"]}`, http.StatusOK, 0, 0},
		{"post import without ids", http.MethodPost, "/api/contracts/import", `{"action":"import"}`, http.StatusBadRequest, 0, 0},
		{"post unknown action", http.MethodPost, "/api/contracts/import", `{"action":"delete"}`, http.StatusBadRequest, 0, 0},
		{"post invalid json", http.MethodPost, "/api/contracts/import", `{`, http.StatusBadRequest, 0, 0},
		{"put not allowed", http.MethodPut, "/api/contracts/import", `{}`, http.StatusMethodNotAllowed, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			importer := &fakeImporter{}
			router, token := newImportRouter(t, importer)

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedPage != 0 && (importer.listPage != tt.expectedPage || importer.listLimit != tt.expectedLimit) {
				t.Errorf("Expected page %d limit %d, got %d/%d", tt.expectedPage, tt.expectedLimit, importer.listPage, importer.listLimit)
			}
		})
	}
}

func TestImportHandlerImportSummary(t *testing.T) {
	importer := &fakeImporter{}
	router, token := newImportRouter(t, importer)

	req := httptest.NewRequest(http.MethodPost, "/api/contracts/import", strings.NewReader(`{"action":"import","contractIds":["1","bad"]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response struct {
		Success bool `json:"success"`
		Summary struct {
			Total      int `json:"total"`
			Successful int `json:"successful"`
			Failed     int `json:"failed"`
		} `json:"summary"`
		Results []service.ImportResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Success || response.Summary.Total != 2 || response.Summary.Successful != 1 || response.Summary.Failed != 1 {
		t.Errorf("Unexpected summary %+v", response)
	}
	if len(response.Results) != 2 || response.Results[1].Error == "" {
		t.Errorf("Expected per-id results, got %+v", response.Results)
	}
}

func TestImportHandlerListErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"provider down", fmt.Errorf("%w: timeout", service.ErrProviderUnavailable), http.StatusBadGateway},
		{"store failure", errors.New("failed to list external ids: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, token := newImportRouter(t, &fakeImporter{listErr: tt.err})

			req := httptest.NewRequest(http.MethodGet, "/api/contracts/import", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestImportHandlerRequiresAuth(t *testing.T) {
	router, _ := newImportRouter(t, &fakeImporter{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/contracts/import", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}
