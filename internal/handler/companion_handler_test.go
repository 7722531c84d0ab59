package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/companionhub/internal/catalog"
	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

func sophie() *model.Companion {
	return &model.Companion{
		ID:              "c-sophie",
		Name:            "Sophie",
		RoleDescription: "English Tutor",
		Category:        "English",
		AvatarEmoji:     "🦊",
		ColorClass:      "av-orange",
		CostPoints:      500,
		DifyAPIKey:      "app-secret-key",
		Status:          model.CompanionStatusActive,
		Stats:           model.CompanionStats{Rating: 4.8, CurrentSubscribers: 1, TotalSubscribersEver: 2},
	}
}

func TestCompanionHandler_List_PassesIncludeDeleted(t *testing.T) {
	var gotInclude bool
	svc := &mockCatalogService{
		listFn: func(ctx context.Context, actor *model.User, includeDeleted bool) ([]*model.Companion, error) {
			gotInclude = includeDeleted
			return []*model.Companion{sophie()}, nil
		},
	}
	h := NewCompanionHandler(svc)

	w := serveAs(testAdmin, http.MethodGet, "/api/companions", "/api/companions?includeDeleted=true", "", h.List)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !gotInclude {
		t.Error("includeDeleted should be passed to the service")
	}

	var body []companionResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0].Name != "Sophie" || !body[0].IsActive || body[0].Stats.Rating != 4.8 {
		t.Errorf("body = %+v", body)
	}
}

func TestCompanionHandler_List_InvalidIncludeDeleted_Returns400(t *testing.T) {
	h := NewCompanionHandler(&mockCatalogService{})
	w := serveAs(testAdmin, http.MethodGet, "/api/companions", "/api/companions?includeDeleted=maybe", "", h.List)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCompanionHandler_Get_NeverExposesDifyAPIKey(t *testing.T) {
	svc := &mockCatalogService{
		getFn: func(ctx context.Context, actor *model.User, id string) (*model.Companion, error) {
			return sophie(), nil
		},
	}
	h := NewCompanionHandler(svc)

	for _, actor := range []*model.User{testStudent, testCreator, testAdmin, testSuperAdmin} {
		w := serveAs(actor, http.MethodGet, "/api/companions/{id}", "/api/companions/c-sophie", "", h.Get)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", actor.Role, w.Code)
		}
		if strings.Contains(w.Body.String(), "app-secret-key") {
			t.Errorf("%s: response must not contain difyApiKey", actor.Role)
		}
		if !strings.Contains(w.Body.String(), `"hasDifyApiKey":true`) {
			t.Errorf("%s: hasDifyApiKey should be true", actor.Role)
		}
	}
}

func TestCompanionHandler_Get_NotFound_Returns404(t *testing.T) {
	h := NewCompanionHandler(&mockCatalogService{})
	w := serveAs(testStudent, http.MethodGet, "/api/companions/{id}", "/api/companions/missing", "", h.Get)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeCompanionNotFound {
		t.Errorf("code = %q", body.Code)
	}
}

func TestCompanionHandler_Create(t *testing.T) {
	var got catalog.CreateCompanionRequest
	svc := &mockCatalogService{
		createFn: func(ctx context.Context, actor *model.User, req catalog.CreateCompanionRequest) (*model.Companion, error) {
			got = req
			c := sophie()
			c.Name = req.Name
			return c, nil
		},
	}
	h := NewCompanionHandler(svc)

	body := `{"name":"Mei","role":"Chinese Tutor","category":"Chinese","avatar":"🐼","colorClass":"av-red","cost":300,"isActive":false}`
	w := serveAs(testAdmin, http.MethodPost, "/api/companions", "/api/companions", body, h.Create)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if got.Name != "Mei" || got.CostPoints != 300 || got.IsActive == nil || *got.IsActive {
		t.Errorf("request = %+v", got)
	}
}

func TestCompanionHandler_Create_Forbidden_Returns403(t *testing.T) {
	svc := &mockCatalogService{
		createFn: func(ctx context.Context, actor *model.User, req catalog.CreateCompanionRequest) (*model.Companion, error) {
			return nil, model.NewForbiddenError("admin role required")
		},
	}
	h := NewCompanionHandler(svc)

	w := serveAs(testStudent, http.MethodPost, "/api/companions", "/api/companions", `{"name":"x"}`, h.Create)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestCompanionHandler_Update_PassesOnlyProvidedFields(t *testing.T) {
	var got catalog.UpdateCompanionRequest
	svc := &mockCatalogService{
		updateFn: func(ctx context.Context, actor *model.User, id string, req catalog.UpdateCompanionRequest) (*model.Companion, error) {
			got = req
			return sophie(), nil
		},
	}
	h := NewCompanionHandler(svc)

	w := serveAs(testCreator, http.MethodPatch, "/api/companions/{id}", "/api/companions/c-sophie", `{"quote":"Let's practise!"}`, h.Update)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Quote == nil || *got.Quote != "Let's practise!" {
		t.Errorf("quote = %v", got.Quote)
	}
	if got.Name != nil || got.CostPoints != nil || got.IsActive != nil {
		t.Errorf("unset fields should remain nil: %+v", got)
	}
}

func TestCompanionHandler_Delete(t *testing.T) {
	tests := []struct {
		name       string
		result     *model.DeleteResult
		err        error
		wantStatus int
		wantWarn   string
	}{
		{"success", &model.DeleteResult{Success: true}, nil, http.StatusOK, ""},
		{"blocked by subscribers", &model.DeleteResult{Success: false, Warning: "Cannot delete: 2 active subscriber(s)."}, nil, http.StatusConflict, "Cannot delete: 2 active subscriber(s)."},
		{"forbidden", nil, model.NewForbiddenError("only super admin can delete"), http.StatusForbidden, ""},
		{"repository failure", nil, errors.New("connection reset"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCatalogService{
				softDeleteFn: func(ctx context.Context, actor *model.User, id string) (*model.DeleteResult, error) {
					return tt.result, tt.err
				},
			}
			h := NewCompanionHandler(svc)

			w := serveAs(testSuperAdmin, http.MethodDelete, "/api/companions/{id}", "/api/companions/c-sophie", "", h.Delete)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.result == nil {
				return
			}
			var body deleteResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success != tt.result.Success || body.Warning != tt.wantWarn {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestCompanionHandler_Dashboard_OmitsOtherRolesFields(t *testing.T) {
	svc := &mockCatalogService{
		statsFn: func(ctx context.Context, actor *model.User) (*model.DashboardStats, error) {
			return &model.DashboardStats{Role: actor.Role, ActiveRecruits: 2, LearningPoints: 1250}, nil
		},
	}
	h := NewCompanionHandler(svc)

	w := serveAs(testStudent, http.MethodGet, "/api/dashboard", "/api/dashboard", "", h.Dashboard)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["activeRecruits"] != float64(2) || body["learningPoints"] != float64(1250) {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["totalCompanions"]; ok {
		t.Error("student dashboard should not include totalCompanions")
	}
}

func TestCompanionHandler_NoActor_Returns401(t *testing.T) {
	h := NewCompanionHandler(&mockCatalogService{})
	w := serveAs(nil, http.MethodGet, "/api/companions", "/api/companions", "", h.List)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
