package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/cleanup"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/reminder"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/testutil"
)

const (
	testGroupID    = 136756716
	testConfirm    = "a1b2c3d4"
	testCBSecret   = "cb-secret"
	testAppSecret  = "app-secret"
	testCronSecret = "cron-secret"
	testAdminToken = "admin-token"
	testUser       = "1001"
)

type fakeInbox struct {
	mu   sync.Mutex
	msgs []models.InboundMessage
}

func (f *fakeInbox) Emit(msg models.InboundMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return true
}

type fakeReminders struct {
	summary reminder.Summary
	err     error
	calls   int
}

func (f *fakeReminders) Run(ctx context.Context, now time.Time) (reminder.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeCleaner struct {
	res cleanup.Result
	err error
}

func (f *fakeCleaner) Run(ctx context.Context, now time.Time) (cleanup.Result, error) {
	return f.res, f.err
}

type testServer struct {
	*Server
	st        *store.InMemoryStore
	inbox     *fakeInbox
	reminders *fakeReminders
	cleaner   *fakeCleaner
}

func newTestServer() *testServer {
	ts := &testServer{
		st:        store.NewInMemoryStore(),
		inbox:     &fakeInbox{},
		reminders: &fakeReminders{},
		cleaner:   &fakeCleaner{},
	}
	ts.Server = NewServer(ts.st,
		WithVKCallback(ts.inbox, testGroupID, testConfirm, testCBSecret),
		WithVKSecretKey(testAppSecret),
		WithJobs(ts.reminders, ts.cleaner, testCronSecret),
		WithAdminToken(testAdminToken),
	)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func callback(t *testing.T, ts *testServer, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	if _, ok := body["group_id"]; !ok {
		body["group_id"] = testGroupID
	}
	if _, ok := body["secret"]; !ok {
		body["secret"] = testCBSecret
	}
	return ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/vk/callback", body))
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestVKCallbackConfirmation(t *testing.T) {
	ts := newTestServer()
	rr := callback(t, ts, map[string]interface{}{"type": "confirmation"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "confirmation")
	if rr.Body.String() != testConfirm {
		t.Errorf("expected confirmation code %q, got %q", testConfirm, rr.Body.String())
	}
}

func TestVKCallbackRejectsWrongGroupAndSecret(t *testing.T) {
	ts := newTestServer()

	rr := callback(t, ts, map[string]interface{}{"type": "confirmation", "group_id": 1})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "wrong group")

	rr = callback(t, ts, map[string]interface{}{"type": "confirmation", "secret": "guess"})
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "bad secret")

	rr = ts.do(httptest.NewRequest(http.MethodPost, "/vk/callback", strings.NewReader("{")))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed body")
}

func TestVKCallbackMessageNew(t *testing.T) {
	ts := newTestServer()
	rr := callback(t, ts, map[string]interface{}{
		"type":     "message_new",
		"event_id": "evt-1",
		"object": map[string]interface{}{
			"message": map[string]interface{}{
				"id":      5,
				"date":    1700000000,
				"from_id": 1001,
				"peer_id": 1001,
				"text":    "",
				"payload": `{"action":"select_bouquet","bouquet_id":"medium","event_id":42}`,
			},
		},
	})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "message_new")
	if rr.Body.String() != "ok" {
		t.Errorf("expected ok, got %q", rr.Body.String())
	}
	if len(ts.inbox.msgs) != 1 {
		t.Fatalf("expected one emitted message, got %d", len(ts.inbox.msgs))
	}
	msg := ts.inbox.msgs[0]
	if msg.MessageID != "evt-1" || msg.UserID != testUser {
		t.Errorf("unexpected message identity %+v", msg)
	}
	want := models.SelectBouquet{Tier: models.TierMedium, EventID: "42"}
	if msg.Payload != want {
		t.Errorf("expected payload %+v, got %+v", want, msg.Payload)
	}
}

func TestVKCallbackAlwaysAcknowledges(t *testing.T) {
	ts := newTestServer()
	for _, body := range []map[string]interface{}{
		{"type": "message_new", "object": map[string]interface{}{"message": map[string]interface{}{}}},
		{"type": "wall_post_new", "object": map[string]interface{}{}},
		{"type": "message_allow", "object": map[string]interface{}{}},
	} {
		rr := callback(t, ts, body)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, body["type"].(string))
		if rr.Body.String() != "ok" {
			t.Errorf("%s: expected ok, got %q", body["type"], rr.Body.String())
		}
	}
	if len(ts.inbox.msgs) != 0 {
		t.Errorf("expected nothing emitted, got %+v", ts.inbox.msgs)
	}
}

func TestVKCallbackConsent(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()

	callback(t, ts, map[string]interface{}{"type": "message_allow", "object": map[string]interface{}{"user_id": 1001, "key": "x"}})
	allowed, err := ts.st.GetUserConsent(ctx, testUser)
	if err != nil || !allowed {
		t.Fatalf("expected consent after message_allow, got %v %v", allowed, err)
	}

	callback(t, ts, map[string]interface{}{"type": "message_deny", "object": map[string]interface{}{"user_id": 1001}})
	allowed, err = ts.st.GetUserConsent(ctx, testUser)
	if err != nil || allowed {
		t.Fatalf("expected no consent after message_deny, got %v %v", allowed, err)
	}
}

func TestCronEndpointsRequireSecret(t *testing.T) {
	ts := newTestServer()
	for _, path := range []string{"/cron/send-reminders", "/cron/cleanup"} {
		rr := ts.do(httptest.NewRequest(http.MethodPost, path, nil))
		testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, path+" without token")

		rr = ts.do(bearer(httptest.NewRequest(http.MethodPost, path, nil), "wrong"))
		testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, path+" with wrong token")
	}
	if ts.reminders.calls != 0 {
		t.Errorf("expected no reminder runs, got %d", ts.reminders.calls)
	}

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/cron/send-reminders", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET on cron endpoint")
}

func TestCronEndpointDisabledWithoutSecret(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), WithJobs(&fakeReminders{}, &fakeCleaner{}, ""))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, bearer(httptest.NewRequest(http.MethodPost, "/cron/send-reminders", nil), ""))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "unconfigured cron secret")
}

func TestSendRemindersHandler(t *testing.T) {
	ts := newTestServer()
	ts.reminders.summary = reminder.Summary{Day7: 2, Day1: 1, RolledOver: 3}

	rr := ts.do(bearer(httptest.NewRequest(http.MethodPost, "/cron/send-reminders", nil), testCronSecret))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send reminders")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]interface{})
	if result["day7"] != float64(2) || result["rolled_over"] != float64(3) {
		t.Errorf("unexpected summary %v", result)
	}

	ts.reminders.err = reminder.ErrRunInProgress
	rr = ts.do(bearer(httptest.NewRequest(http.MethodPost, "/cron/send-reminders", nil), testCronSecret))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "overlapping run")

	ts.reminders.err = errors.New("db down")
	rr = ts.do(bearer(httptest.NewRequest(http.MethodPost, "/cron/send-reminders", nil), testCronSecret))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "failed run")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestCleanupHandler(t *testing.T) {
	ts := newTestServer()
	ts.cleaner.res = cleanup.Result{Archived: 4, Pruned: 7}

	rr := ts.do(bearer(httptest.NewRequest(http.MethodPost, "/cron/cleanup", nil), testCronSecret))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "cleanup")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]interface{})
	if result["archived"] != float64(4) || result["pruned"] != float64(7) {
		t.Errorf("unexpected result %v", result)
	}
}

func TestAdminPreorders(t *testing.T) {
	ts := newTestServer()
	e := testutil.SeedEvent(t, ts.st, testUser, 8, 3)
	p := testutil.SeedPreorder(t, ts.st, e)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/admin/preorders", nil))
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "list without token")

	rr = ts.do(bearer(httptest.NewRequest(http.MethodGet, "/admin/preorders?status=new", nil), testAdminToken))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list new")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if list, _ := resp["result"].([]interface{}); len(list) != 1 {
		t.Errorf("expected one preorder, got %v", resp["result"])
	}

	rr = ts.do(bearer(httptest.NewRequest(http.MethodGet, "/admin/preorders?status=completed", nil), testAdminToken))
	resp = testutil.AssertJSONResponse(t, rr, "ok")
	if list, ok := resp["result"].([]interface{}); !ok || len(list) != 0 {
		t.Errorf("expected an empty list, got %v", resp["result"])
	}

	rr = ts.do(bearer(httptest.NewRequest(http.MethodGet, "/admin/preorders?status=shipped", nil), testAdminToken))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown status filter")

	patch := func(id, status string) *httptest.ResponseRecorder {
		req := testutil.CreateHTTPRequest(t, http.MethodPatch, "/admin/preorders/"+id, map[string]string{"status": status})
		return ts.do(bearer(req, testAdminToken))
	}

	rr = patch(p.ID, "confirmed")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "new -> confirmed")
	resp = testutil.AssertJSONResponse(t, rr, "ok")
	if result, _ := resp["result"].(map[string]interface{}); result["status"] != "confirmed" {
		t.Errorf("expected confirmed preorder, got %v", resp["result"])
	}

	rr = patch(p.ID, "new")
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "confirmed -> new")

	rr = patch(p.ID, "lost")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid status")

	rr = patch("missing", "cancelled")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing preorder")
}

func TestAdminSettings(t *testing.T) {
	ts := newTestServer()
	put := func(body map[string]string) *httptest.ResponseRecorder {
		return ts.do(bearer(testutil.CreateHTTPRequest(t, http.MethodPut, "/admin/settings", body), testAdminToken))
	}

	rr := put(map[string]string{"bouquet_medium_price": "3000", "favourite_colour": "red"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown key")
	tiers, _ := ts.st.GetBouquetTierConfig(context.Background())
	if tiers.Medium.Price.String() != "2500" {
		t.Errorf("expected nothing written on a rejected batch, got %s", tiers.Medium.Price)
	}

	rr = put(map[string]string{"bouquet_medium_price": "-1"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "negative price")

	rr = put(map[string]string{"bouquet_medium_price": "3000", "shop_name": "Розы"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "valid update")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]interface{})
	shop, _ := result["shop"].(map[string]interface{})
	if shop["shop_name"] != "Розы" {
		t.Errorf("expected updated shop name, got %v", result)
	}

	rr = ts.do(bearer(httptest.NewRequest(http.MethodGet, "/admin/settings", nil), testAdminToken))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get settings")
	var decoded struct {
		Result settingsResponse `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &decoded)
	if decoded.Result.Bouquets.Medium.Price.String() != "3000" {
		t.Errorf("expected medium price 3000, got %s", decoded.Result.Bouquets.Medium.Price)
	}
}

func miniappRequest(t *testing.T, method, path string, body interface{}, userID string) *http.Request {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, method, path, body)
	params := testutil.SignedLaunchParams(userID, testAppSecret)
	obj := map[string]string{}
	for k := range params {
		obj[k] = params.Get(k)
	}
	req.Header.Set(VKParamsHeader, string(testutil.MustMarshalJSON(t, obj)))
	return req
}

func TestMiniappRequiresSignature(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/miniapp/events?vk_user_id=1001", nil))
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "unsigned")

	q := testutil.SignedLaunchParams(testUser, testAppSecret)
	q.Set("vk_user_id", "1002")
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/miniapp/events?"+q.Encode(), nil))
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "tampered user id")

	q = testutil.SignedLaunchParams(testUser, testAppSecret)
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/miniapp/events?"+q.Encode(), nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "signed query")
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on mini-app responses")
	}

	req := httptest.NewRequest(http.MethodGet, "/miniapp/events", nil)
	req.Header.Set(VKParamsHeader, "not json")
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed header")
}

func TestMiniappPreflight(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(httptest.NewRequest(http.MethodOptions, "/miniapp/events", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "preflight")
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), VKParamsHeader) {
		t.Errorf("expected %s in allowed headers, got %q", VKParamsHeader, rr.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestMiniappEventLifecycle(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()

	rr := ts.do(miniappRequest(t, http.MethodPost, "/miniapp/events", map[string]interface{}{
		"event_type":     "womens_day",
		"event_day":      8,
		"event_month":    3,
		"recipient_name": "  Мама ",
	}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create")
	var created struct {
		Result models.Event `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &created)
	e := created.Result
	if e.OwnerID != testUser || e.Type != models.EventTypeMarch8 || e.RecipientName != "Мама" || !e.NotificationsEnabled {
		t.Errorf("unexpected event %+v", e)
	}
	if u, _ := ts.st.GetUser(ctx, testUser); u == nil {
		t.Error("expected the user to be created with the first event")
	}

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/events", map[string]interface{}{
		"event_type": "other", "event_day": 1, "event_month": 1, "recipient_name": "Коля",
	}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "other without custom name")

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/events", map[string]interface{}{
		"event_type": "birthday", "event_day": 31, "event_month": 4, "recipient_name": "Коля",
	}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "April 31st")

	testutil.SeedEvent(t, ts.st, "2002", 1, 5)
	rr = ts.do(miniappRequest(t, http.MethodGet, "/miniapp/events", nil, testUser))
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if list, _ := resp["result"].([]interface{}); len(list) != 1 {
		t.Errorf("expected only the caller's event, got %v", resp["result"])
	}

	p := testutil.SeedPreorder(t, ts.st, e)

	rr = ts.do(miniappRequest(t, http.MethodDelete, "/miniapp/events/"+e.ID, nil, "2002"))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "delete someone else's event")

	rr = ts.do(miniappRequest(t, http.MethodDelete, "/miniapp/events/"+e.ID, nil, testUser))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete own event")
	if got, _ := ts.st.GetEvent(ctx, e.ID); got != nil {
		t.Error("expected the event to be gone")
	}
	got, _ := ts.st.GetPreorder(ctx, store.PreorderFilter{ID: p.ID})
	if got == nil || got.Status != models.PreorderStatusCancelled {
		t.Errorf("expected the open preorder to be cancelled, got %+v", got)
	}
}

func TestMiniappEventLimit(t *testing.T) {
	ts := newTestServer()
	for i := 0; i < MaxEventsPerUser; i++ {
		testutil.SeedEvent(t, ts.st, testUser, i+1, 6)
	}
	rr := ts.do(miniappRequest(t, http.MethodPost, "/miniapp/events", map[string]interface{}{
		"event_type": "birthday", "event_day": 20, "event_month": 6, "recipient_name": "Коля",
	}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "event limit")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestMiniappUser(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()

	rr := ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{
		"first_name": "Анна", "messages_allowed": true,
	}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "create user")
	if allowed, _ := ts.st.GetUserConsent(ctx, testUser); !allowed {
		t.Error("expected consent to be stored")
	}

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{"first_name": "Аня"}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "rename user")
	var decoded struct {
		Result models.User `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &decoded)
	if decoded.Result.FirstName != "Аня" || !decoded.Result.MessagesAllowed {
		t.Errorf("expected renamed user with consent kept, got %+v", decoded.Result)
	}
}

func TestMiniappUserPhone(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()

	rr := ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{"phone": "12"}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "short phone")

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{
		"phone": "+7 (912) 797-13-48", "messages_allowed": true,
	}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "bind phone")
	u, _ := ts.st.GetUserByPhone(ctx, "79127971348")
	if u == nil || u.ID != testUser || !u.MessagesAllowed {
		t.Fatalf("expected the phone bound to the caller with consent, got %+v", u)
	}

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{"phone": "79127971348"}, "2002"))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "phone of another user")

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{"first_name": "Аня"}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "rename keeps phone")
	if u, _ := ts.st.GetUser(ctx, testUser); u == nil || u.Phone != "79127971348" {
		t.Errorf("expected the phone to survive a rename, got %+v", u)
	}

	rr = ts.do(miniappRequest(t, http.MethodPost, "/miniapp/user", map[string]interface{}{"phone": ""}, testUser))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "unbind phone")
	if u, _ := ts.st.GetUserByPhone(ctx, "79127971348"); u != nil {
		t.Errorf("expected the phone to be unbound, got %+v", u)
	}
}

func TestLaunchParamsFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/miniapp/events", nil)
	req.Header.Set(VKParamsHeader, `{"vk_user_id":1001,"vk_is_app_user":true,"sign":"abc"}`)
	params, err := launchParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := url.Values{"vk_user_id": {"1001"}, "vk_is_app_user": {"1"}, "sign": {"abc"}}
	if params.Encode() != want.Encode() {
		t.Errorf("expected %v, got %v", want, params)
	}

	req.Header.Set(VKParamsHeader, `{"vk_user_id":{"nested":1}}`)
	if _, err := launchParams(req); err == nil {
		t.Error("expected nested values to be rejected")
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, models.Success(make(chan int)))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unmarshalable response")
	if !bytes.Equal(rr.Body.Bytes(), fallbackErrorResponse) {
		t.Errorf("expected fallback body, got %s", rr.Body.String())
	}
	var decoded models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil || decoded.Status != "error" {
		t.Errorf("expected error envelope, got %s", rr.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if id := rr.Header().Get(RequestIDHeader); !strings.HasPrefix(id, "req_") {
		t.Errorf("expected a generated request id, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	rr = ts.do(req)
	if id := rr.Header().Get(RequestIDHeader); id != "upstream-1" {
		t.Errorf("expected the caller's request id, got %q", id)
	}
}
