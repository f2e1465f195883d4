// Package testutil provides common test utilities and helpers for flowerbot tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/vk"
)

// TestingT is the subset of *testing.T the helpers need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// SignedLaunchParams returns mini-app launch parameters for userID signed with secret.
func SignedLaunchParams(userID, secret string) url.Values {
	q := url.Values{}
	q.Set("vk_user_id", userID)
	q.Set("vk_app_id", "51234567")
	q.Set("vk_platform", "mobile_web")
	q.Set("vk_ts", "1700000000")
	q.Set("sign", vk.SignLaunchParams(q, secret))
	return q
}

// SeedEvent stores an active birthday event and returns it.
func SeedEvent(t TestingT, st store.EventRepo, ownerID string, day, month int) models.Event {
	t.Helper()
	e := &models.Event{
		OwnerID:              ownerID,
		Type:                 models.EventTypeBirthday,
		Day:                  day,
		Month:                month,
		RecipientName:        "мамы",
		NotificationsEnabled: true,
	}
	if err := st.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
	return *e
}

// SeedPreorder stores a self-pickup economy preorder for the event.
func SeedPreorder(t TestingT, st store.PreorderRepo, event models.Event) models.Preorder {
	t.Helper()
	p := &models.Preorder{
		EventID:       event.ID,
		BuyerID:       event.OwnerID,
		Tier:          models.TierEconomy,
		BouquetRef:    string(models.TierEconomy),
		BouquetName:   "Букет эконом",
		BouquetPrice:  decimal.NewFromInt(1500),
		Fulfillment:   models.FulfillmentSelfPickup,
		RecipientName: event.RecipientName,
	}
	if err := st.CreatePreorder(context.Background(), p); err != nil {
		t.Fatalf("failed to seed preorder: %v", err)
	}
	return *p
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
