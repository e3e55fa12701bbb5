package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"shelfstream/handlers"
	"shelfstream/models"
	"shelfstream/services/users"
)

func usersTestRouter(t *testing.T) (*mux.Router, *users.Service) {
	t.Helper()
	svc, err := users.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}

	h := handlers.NewUsersHandler(svc)
	r := mux.NewRouter()
	r.HandleFunc("/api/users", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/users", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userID}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userID}", h.Rename).Methods(http.MethodPatch)
	r.HandleFunc("/api/users/{userID}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/users/{userID}/pin", h.SetPin).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{userID}/pin/verify", h.VerifyPin).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userID}/progress/{audiobookID}", h.UpdateProgress).Methods(http.MethodPatch)
	return r, svc
}

func TestUsersListIncludesDefault(t *testing.T) {
	r, _ := usersTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}

	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 user, got %d", len(list))
	}
	if list[0]["id"] != models.DefaultUserID {
		t.Fatalf("expected default user, got %v", list[0]["id"])
	}
	if _, ok := list[0]["hasPin"]; !ok {
		t.Fatal("expected hasPin field in user payload")
	}
	if _, ok := list[0]["pinHash"]; ok {
		t.Fatal("pin hash must not leak into API payload")
	}
}

func TestUsersCreateAndRename(t *testing.T) {
	r, _ := usersTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{"name":"Alex"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	var created models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/users/"+created.ID, bytes.NewBufferString(`{"name":"Sam"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename returned %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{"name":"  "}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}
}

func TestUsersPinEndpoints(t *testing.T) {
	r, svc := usersTestRouter(t)
	userID := svc.List()[0].ID

	req := httptest.NewRequest(http.MethodPut, "/api/users/"+userID+"/pin", bytes.NewBufferString(`{"pin":"4821"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set pin returned %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users/"+userID+"/pin/verify", bytes.NewBufferString(`{"pin":"4821"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify returned %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users/"+userID+"/pin/verify", bytes.NewBufferString(`{"pin":"0000"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/users/"+userID+"/pin", bytes.NewBufferString(`{"pin":"12"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short pin, got %d", rec.Code)
	}
}

func TestUsersUpdateProgressEndpoint(t *testing.T) {
	r, svc := usersTestRouter(t)
	userID := svc.List()[0].ID

	body := `{"currentTime": 120, "totalDuration": 600}`
	req := httptest.NewRequest(http.MethodPatch, "/api/users/"+userID+"/progress/ab_1", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update progress returned %d: %s", rec.Code, rec.Body.String())
	}

	var progress models.AudiobookProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
		t.Fatalf("failed to decode progress: %v", err)
	}
	if progress.Progress != 0.2 {
		t.Fatalf("expected progress 0.2, got %v", progress.Progress)
	}

	user, _ := svc.Get(userID)
	if _, ok := user.ProgressFor("ab_1"); !ok {
		t.Fatal("expected stored progress")
	}
}
