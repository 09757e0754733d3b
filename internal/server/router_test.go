package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prospectlabs/prospect/backend/internal/auth"
	"github.com/prospectlabs/prospect/backend/internal/store"
	"github.com/prospectlabs/prospect/backend/internal/tracker"
	"github.com/prospectlabs/prospect/backend/internal/users"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:prospect_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&store.Document{}, &users.Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	documentStore, err := store.New(store.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	idProvider := tracker.NewUUIDProvider()
	accounts, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct accounts service: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "prospect-auth",
		Audience:      "prospect-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	engine, err := tracker.New(tracker.Config{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	t.Cleanup(engine.EndSession)

	gateway, err := tracker.NewGateway(tracker.GatewayConfig{
		Engine:     engine,
		Store:      documentStore,
		IDProvider: idProvider,
	})
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts:     accounts,
		TokenManager: tokens,
		Engine:       engine,
		Gateway:      gateway,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func signUpUser(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/auth/signup", "", credentialsPayload{
		Email:    email,
		Password: "long-enough-password",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected signup to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var session sessionResponsePayload
	decodeBody(t, recorder, &session)
	if session.AccessToken == "" {
		t.Fatalf("expected an access token")
	}
	return session.AccessToken
}

func awaitCollection(t *testing.T, handler http.Handler, token, query string, condition func(collectionResponsePayload) bool) collectionResponsePayload {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last collectionResponsePayload
	for time.Now().Before(deadline) {
		recorder := doJSON(t, handler, http.MethodGet, "/products?query="+query, token, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected product list, got %d: %s", recorder.Code, recorder.Body.String())
		}
		decodeBody(t, recorder, &last)
		if condition(last) {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for collection state, last: %#v", last)
	return last
}

func TestSignUpIssuesTokenAndStartsSession(t *testing.T) {
	handler := newTestHandler(t)
	token := signUpUser(t, handler, "research@example.com")

	collection := awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return !payload.Loading
	})
	if len(collection.Products) != 0 {
		t.Fatalf("expected empty collection, got %d products", len(collection.Products))
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/products", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestSignInSurfacesCredentialErrorVerbatim(t *testing.T) {
	handler := newTestHandler(t)
	signUpUser(t, handler, "research@example.com")

	recorder := doJSON(t, handler, http.MethodPost, "/auth/signin", "", credentialsPayload{
		Email:    "research@example.com",
		Password: "wrong-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	var payload map[string]string
	decodeBody(t, recorder, &payload)
	if payload["error"] != "incorrect email or password" {
		t.Fatalf("expected the credential message verbatim, got %q", payload["error"])
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	handler := newTestHandler(t)
	signUpUser(t, handler, "research@example.com")

	recorder := doJSON(t, handler, http.MethodPost, "/auth/signup", "", credentialsPayload{
		Email:    "research@example.com",
		Password: "long-enough-password",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestProductLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := signUpUser(t, handler, "research@example.com")
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool { return !payload.Loading })

	created := doJSON(t, handler, http.MethodPost, "/products", token, nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var createdPayload map[string]string
	decodeBody(t, created, &createdPayload)
	productID := createdPayload["id"]
	if productID == "" {
		t.Fatalf("expected a product id")
	}

	collection := awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1
	})
	if collection.Selected != productID {
		t.Fatalf("expected the new product to be selected, got %q", collection.Selected)
	}
	if collection.Products[0].Roas != "-" {
		t.Fatalf("expected no ROAS without inputs, got %q", collection.Products[0].Roas)
	}

	for _, update := range []fieldUpdatePayload{
		{Field: "name", Value: "Widget Pro"},
		{Field: "price", Value: "30"},
		{Field: "cogs", Value: "10"},
	} {
		recorder := doJSON(t, handler, http.MethodPatch, "/products/"+productID, token, update)
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("expected 204 for %s, got %d: %s", update.Field, recorder.Code, recorder.Body.String())
		}
	}

	collection = awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1 && payload.Products[0].Cogs == "10"
	})
	row := collection.Products[0]
	if row.Name != "Widget Pro" {
		t.Fatalf("expected merged name, got %q", row.Name)
	}
	if row.Margin != "$20.00" {
		t.Fatalf("expected margin $20.00, got %q", row.Margin)
	}
	if row.Roas != "1.50x" || !row.RoasFavorable {
		t.Fatalf("expected favorable 1.50x, got %q favorable=%v", row.Roas, row.RoasFavorable)
	}

	filtered := awaitCollection(t, handler, token, "pro", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1
	})
	if filtered.Products[0].Name != "Widget Pro" {
		t.Fatalf("expected the filter to match Widget Pro")
	}
	empty := awaitCollection(t, handler, token, "zzz", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 0
	})
	if len(empty.Products) != 0 {
		t.Fatalf("expected no matches for zzz")
	}

	deleted := doJSON(t, handler, http.MethodDelete, "/products/"+productID, token, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", deleted.Code)
	}
	final := awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 0
	})
	if final.Selected != "" {
		t.Fatalf("expected selection cleared after delete, got %q", final.Selected)
	}
}

func TestCompetitorAndLinkEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	token := signUpUser(t, handler, "research@example.com")
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool { return !payload.Loading })

	created := doJSON(t, handler, http.MethodPost, "/products", token, nil)
	var createdPayload map[string]string
	decodeBody(t, created, &createdPayload)
	productID := createdPayload["id"]
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1
	})

	recorder := doJSON(t, handler, http.MethodPut, "/products/"+productID+"/competitors/1", token, textFieldUpdatePayload{
		Field: "brand",
		Value: "Globex",
	})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
	collection := awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1 && len(payload.Products[0].Competitors) == 3 &&
			payload.Products[0].Competitors[1].Brand == "Globex"
	})
	if collection.Products[0].Competitors[0].Brand != "" || collection.Products[0].Competitors[2].Brand != "" {
		t.Fatalf("expected other competitor slots untouched")
	}

	outOfRange := doJSON(t, handler, http.MethodPut, "/products/"+productID+"/competitors/7", token, textFieldUpdatePayload{
		Field: "brand",
		Value: "x",
	})
	if outOfRange.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range index, got %d", outOfRange.Code)
	}

	linkCreated := doJSON(t, handler, http.MethodPost, "/products/"+productID+"/links", token, nil)
	if linkCreated.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", linkCreated.Code)
	}
	var linkPayload map[string]string
	decodeBody(t, linkCreated, &linkPayload)
	linkID := linkPayload["id"]

	recorder = doJSON(t, handler, http.MethodPatch, "/products/"+productID+"/links/"+linkID, token, textFieldUpdatePayload{
		Field: "title",
		Value: "Trend report",
	})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1 && len(payload.Products[0].OtherLinks) == 1 &&
			payload.Products[0].OtherLinks[0].Title == "Trend report"
	})

	recorder = doJSON(t, handler, http.MethodDelete, "/products/"+productID+"/links/"+linkID, token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool {
		return len(payload.Products) == 1 && len(payload.Products[0].OtherLinks) == 0
	})
}

func TestReplacedSessionGetsConflict(t *testing.T) {
	handler := newTestHandler(t)
	firstToken := signUpUser(t, handler, "first@example.com")
	awaitCollection(t, handler, firstToken, "", func(payload collectionResponsePayload) bool { return !payload.Loading })

	signUpUser(t, handler, "second@example.com")

	recorder := doJSON(t, handler, http.MethodGet, "/products", firstToken, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 after the session was replaced, got %d", recorder.Code)
	}
}

func TestSignOutEndsSession(t *testing.T) {
	handler := newTestHandler(t)
	token := signUpUser(t, handler, "research@example.com")
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool { return !payload.Loading })

	recorder := doJSON(t, handler, http.MethodPost, "/auth/signout", token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/products", token, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 after sign out, got %d", recorder.Code)
	}
}

func TestCORSPreflightAllowsMutationMethods(t *testing.T) {
	handler := newTestHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/products/abc", nil)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", recorder.Code)
	}
}

func TestStreamClosesWhenSessionReplaced(t *testing.T) {
	handler := newTestHandler(t)
	streamServer := httptest.NewServer(handler)
	t.Cleanup(streamServer.Close)

	token := signUpUser(t, handler, "research@example.com")
	awaitCollection(t, handler, token, "", func(payload collectionResponsePayload) bool { return !payload.Loading })

	request, err := http.NewRequest(http.MethodGet, streamServer.URL+"/products/stream", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	initial := make([]byte, 1)
	if _, err := response.Body.Read(initial); err != nil {
		t.Fatalf("expected an initial event: %v", err)
	}

	// signing up another user replaces the active session; the stream for
	// the first user must terminate instead of emitting for a dead session
	signUpUser(t, handler, "other@example.com")

	started := time.Now()
	if _, err := io.ReadAll(response.Body); err != nil {
		t.Fatalf("expected the stream to close cleanly: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("stream took too long to close: %v", elapsed)
	}
}
