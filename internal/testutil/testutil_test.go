package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/vk"
)

// mockTestingT records failures instead of failing the enclosing test.
type mockTestingT struct {
	failed bool
	fatal  bool
	msgs   []string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.msgs = append(m.msgs, fmt.Sprintf(format, args...))
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.fatal = true
	m.msgs = append(m.msgs, fmt.Sprintf(format, args...))
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%v)", tt.shouldFail, mockT.failed, mockT.msgs)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"id":"1"}}`)

	mockT := &mockTestingT{}
	resp := AssertJSONResponse(mockT, rr, "ok")
	if mockT.failed {
		t.Fatalf("unexpected failure: %v", mockT.msgs)
	}
	if _, ok := resp["result"].(map[string]interface{}); !ok {
		t.Errorf("expected result object, got %v", resp["result"])
	}

	mockT = &mockTestingT{}
	AssertJSONResponse(mockT, rr, "error")
	if !mockT.failed {
		t.Error("expected mismatch to fail")
	}

	bad := httptest.NewRecorder()
	bad.WriteString("not json")
	mockT = &mockTestingT{}
	AssertJSONResponse(mockT, bad, "ok")
	if !mockT.fatal {
		t.Error("expected invalid JSON to be fatal")
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/admin/settings", map[string]string{"shop_name": "Розы"})
	if req.Method != http.MethodPost || req.URL.Path != "/admin/settings" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	var body map[string]string
	MustUnmarshalJSON(t, mustRead(t, req), &body)
	if body["shop_name"] != "Розы" {
		t.Errorf("unexpected body %v", body)
	}
}

func mustRead(t *testing.T, req *http.Request) []byte {
	t.Helper()
	buf, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return buf
}

func TestSignedLaunchParamsVerify(t *testing.T) {
	q := SignedLaunchParams("1001", "secret")
	userID, err := vk.VerifyLaunchParams(q, "secret")
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if userID != "1001" {
		t.Errorf("expected user 1001, got %s", userID)
	}
	if _, err := vk.VerifyLaunchParams(q, "other"); err == nil {
		t.Error("expected signature mismatch with another secret")
	}
}

func TestSeedHelpers(t *testing.T) {
	st := store.NewInMemoryStore()
	e := SeedEvent(t, st, "1001", 8, 3)
	p := SeedPreorder(t, st, e)
	if p.ID == "" || p.Status != models.PreorderStatusNew {
		t.Errorf("unexpected preorder %+v", p)
	}
	got, _ := st.GetEvent(t.Context(), e.ID)
	if got == nil || got.Status != models.EventStatusPreordered {
		t.Errorf("expected event to be preordered, got %+v", got)
	}
}
