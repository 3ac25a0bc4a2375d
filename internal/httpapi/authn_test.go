package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"enrolhub.org/internal/auth"
	"enrolhub.org/internal/enrolment"
)

func newAuthedRequest(t *testing.T, method, target, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if method == http.MethodPost || method == http.MethodPut {
		if err := json.NewEncoder(&buf).Encode(map[string]any{"name": "Acme Packaging Ltd"}); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	t.Setenv("ENROLHUB_AUTH_SECRET", "")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api, store := newTestAPI(t)
	h := api.Handler()
	orgID := seedOrg(t, store)

	rr := doJSON(t, h, http.MethodGet, "/v1/organisations/"+orgID+"/authorisations/manage-users", "caller", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestAuthRequiredWithSecret(t *testing.T) {
	t.Setenv("ENROLHUB_AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api, _ := newTestAPI(t)
	h := api.Handler()

	// Public paths stay open.
	rr := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/organisations", "", map[string]any{"name": "Acme"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "missing bearer token" {
		t.Fatalf("no token message: %v", body["error"])
	}

	req := newAuthedRequest(t, http.MethodPost, "/v1/organisations", "not-a-token")
	rr = serve(h, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", rr.Code)
	}

	token, err := auth.GenerateToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req = newAuthedRequest(t, http.MethodPost, "/v1/organisations", token)
	rr = serve(h, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("valid token: status %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAuthSubjectBecomesCaller(t *testing.T) {
	t.Setenv("ENROLHUB_AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api, store := newTestAPI(t)
	h := api.Handler()
	orgID := seedOrg(t, store)
	// An Approved approver whose external user id is the token subject.
	userID, _, _ := seedUser(t, store, orgID, enrolment.PersonRoleAdmin, enrolment.ServiceRolePackagingApprovedPerson, enrolment.StatusApproved)

	token, err := auth.GenerateToken(userID, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := newAuthedRequest(t, http.MethodGet, "/v1/organisations/"+orgID+"/authorisations/manage-users", token)
	rr := serve(h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["authorised"] != true {
		t.Fatalf("authorised: %v", body)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("expected error for empty header")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("expected error for wrong scheme")
	}
	if _, err := extractBearerToken("Bearer "); err == nil {
		t.Fatal("expected error for empty token")
	}
	got, err := extractBearerToken("Bearer abc.def.ghi")
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("got %q, %v", got, err)
	}
}
