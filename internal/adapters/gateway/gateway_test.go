package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncbridge/internal/config"
	"syncbridge/internal/core/domain"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const testSecret = "s3cret"

// recordedRequest is what the fake platform API saw
type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

// fakeAPI serves the platform endpoints plus the RingCentral token endpoint
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
	tokenErr bool
	server   *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{status: http.StatusOK, body: "{}"}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/restapi/oauth/token" {
		id, secret, ok := r.BasicAuth()
		if f.tokenErr || !ok || id != "client" || secret != "client-secret" ||
			r.FormValue("grant_type") != jwtBearerGrant || r.FormValue("assertion") != "jwt-token" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"rc-access","token_type":"bearer","expires_in":3600}`))
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	status, respBody := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(respBody))
}

func (f *fakeAPI) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func createTestLiveChat(t *testing.T, api *fakeAPI) *LiveChat {
	t.Helper()
	url := "http://127.0.0.1:0"
	if api != nil {
		url = api.server.URL
	}
	return NewLiveChat(config.LiveChatConfig{APIURL: url, AccessToken: "lc-token", WebhookSecret: testSecret})
}

func createTestRingCentral(t *testing.T, api *fakeAPI) *RingCentral {
	t.Helper()
	url := "http://127.0.0.1:0"
	if api != nil {
		url = api.server.URL
	}
	return NewRingCentral(config.RingCentralConfig{
		APIURL:        url,
		ClientID:      "client",
		ClientSecret:  "client-secret",
		JWT:           "jwt-token",
		WebhookSecret: testSecret,
	})
}

func testAgent() *domain.Agent {
	return &domain.Agent{ID: 7, LiveChatAgentID: "agent@example.com", RingCentralExtensionID: "101", Name: "Ann"}
}

func testRecord(customer *domain.Customer) domain.ConversationRecord {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	dur := int64(90)
	return domain.ConversationRecord{
		Conversation: &domain.Conversation{
			ID:                3,
			Type:              domain.ConversationCall,
			Platform:          domain.PlatformRingCentral,
			ExternalSessionID: "s-1",
			Direction:         "inbound",
			StartedAt:         started,
			EndedAt:           &ended,
			DurationSeconds:   &dur,
		},
		Agent:    testAgent(),
		Customer: customer,
	}
}

func strPtr(s string) *string { return &s }

// ============================================================================
// Signatures
// ============================================================================

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"webhook_id":"w1"}`)
	good := Sign(testSecret, body)

	tests := []struct {
		name     string
		secret   string
		received string
		wantErr  bool
	}{
		{"valid", testSecret, good, false},
		{"prefixed", testSecret, "sha256=" + good, false},
		{"upper case hex", testSecret, strings.ToUpper(good), false},
		{"wrong secret", "other", good, true},
		{"tampered", testSecret, Sign(testSecret, []byte("x")), true},
		{"missing", testSecret, "", true},
		{"not hex", testSecret, "zz", true},
		{"no secret configured", "", good, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMAC(tt.secret, tt.received, body)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignature_Headers(t *testing.T) {
	body := []byte(`{}`)

	lcHeader := http.Header{}
	lcHeader.Set(LiveChatSignatureHeader, Sign(testSecret, body))
	assert.NoError(t, createTestLiveChat(t, nil).VerifySignature(lcHeader, body))
	assert.ErrorIs(t, createTestRingCentral(t, nil).VerifySignature(lcHeader, body), domain.ErrInvalidSignature)

	rcHeader := http.Header{}
	rcHeader.Set(RingCentralSignatureHeader, Sign(testSecret, body))
	assert.NoError(t, createTestRingCentral(t, nil).VerifySignature(rcHeader, body))
}

// ============================================================================
// Inbound mapping
// ============================================================================

func TestLiveChat_Normalize(t *testing.T) {
	lc := createTestLiveChat(t, nil)

	t.Run("incoming chat", func(t *testing.T) {
		body := []byte(`{
			"webhook_id": "wh-1",
			"action": "incoming_chat",
			"payload": {"chat": {
				"id": "chat-9",
				"users": [
					{"id": "cust-1", "type": "customer", "name": "Jane", "email": "jane@example.com"},
					{"id": "agent@example.com", "type": "agent", "name": "Ann"}
				],
				"thread": {"id": "t-1", "active": true, "created_at": "2024-03-01T09:00:00Z"}
			}}
		}`)
		ev, err := lc.Normalize(body)
		require.NoError(t, err)

		started, ok := ev.(domain.ChatStarted)
		require.True(t, ok)
		assert.Equal(t, "wh-1", started.ExternalEventID)
		assert.Equal(t, "chat-9", started.SessionID)
		assert.Equal(t, "agent@example.com", started.AgentRef)
		assert.Equal(t, domain.CustomerRef{ExternalID: "cust-1", Email: "jane@example.com", Name: "Jane"}, started.Customer)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), started.OccurredAt.UTC())
		assert.Equal(t, domain.HashPayload(body), started.PayloadHash)
	})

	t.Run("chat deactivated", func(t *testing.T) {
		ev, err := lc.Normalize([]byte(`{"webhook_id":"wh-2","action":"chat_deactivated","payload":{"chat_id":"chat-9","thread_id":"t-1"}}`))
		require.NoError(t, err)
		assert.Equal(t, domain.ChatEnded{
			Envelope:  ev.Meta(),
			SessionID: "chat-9",
		}, ev)
	})

	errorCases := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"other action", `{"webhook_id":"wh-3","action":"incoming_event","payload":{}}`, domain.ErrUnsupportedEvent},
		{"missing webhook id", `{"action":"incoming_chat","payload":{"chat":{"id":"c"}}}`, domain.ErrMalformedPayload},
		{"empty webhook id", `{"webhook_id":"","action":"incoming_chat","payload":{}}`, domain.ErrMalformedPayload},
		{"not json", `not json`, domain.ErrMalformedPayload},
		{"incoming chat without chat", `{"webhook_id":"wh-4","action":"incoming_chat","payload":{}}`, domain.ErrMalformedPayload},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lc.Normalize([]byte(tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRingCentral_Normalize(t *testing.T) {
	rc := createTestRingCentral(t, nil)

	t.Run("answered inbound call", func(t *testing.T) {
		ev, err := rc.Normalize([]byte(`{
			"uuid": "u-1",
			"event": "/restapi/v1.0/account/~/extension/~/telephony/sessions",
			"timestamp": "2024-03-01T09:00:00.000Z",
			"subscriptionId": "sub-1",
			"body": {
				"telephonySessionId": "ts-1",
				"parties": [
					{"id": "p-0", "direction": "Inbound", "status": {"code": "Answered"}},
					{"id": "p-1", "extensionId": "101",
					 "direction": {"value": "Inbound"}, "status": {"code": "Answered"},
					 "from": {"phoneNumber": "+14155550100", "name": "Jane"},
					 "to": {"extensionNumber": "101"}}
				]
			}
		}`))
		require.NoError(t, err)

		started, ok := ev.(domain.CallStarted)
		require.True(t, ok)
		assert.Equal(t, "u-1", started.ExternalEventID)
		assert.Equal(t, "ts-1", started.SessionID)
		assert.Equal(t, "101", started.AgentRef)
		assert.Equal(t, "Inbound", started.Direction)
		assert.Equal(t, domain.CustomerRef{Phone: "+14155550100", Name: "Jane"}, started.Customer)
		assert.Equal(t, "telephony_session.answered", started.EventType)
	})

	t.Run("outbound call uses the callee", func(t *testing.T) {
		ev, err := rc.Normalize([]byte(`{"uuid":"u-2","event":"e","body":{"sessionId":"s-2","parties":[
			{"extensionId":"101","direction":"Outbound","status":"Setup",
			 "from":{"phoneNumber":"+14155550000"},"to":{"phoneNumber":"+14155550199"}}]}}`))
		require.NoError(t, err)
		started := ev.(domain.CallStarted)
		assert.Equal(t, "s-2", started.SessionID)
		assert.Equal(t, "+14155550199", started.Customer.Phone)
	})

	t.Run("disconnected", func(t *testing.T) {
		ev, err := rc.Normalize([]byte(`{"uuid":"u-3","event":"e","body":{"telephonySessionId":"ts-1","parties":[
			{"extensionId":"101","status":{"code":"Disconnected"}}]}}`))
		require.NoError(t, err)
		ended, ok := ev.(domain.CallEnded)
		require.True(t, ok)
		assert.Equal(t, "ts-1", ended.SessionID)
		assert.Equal(t, "101", ended.AgentRef)
	})

	t.Run("missing uuid gets a stable id", func(t *testing.T) {
		body := []byte(`{"event":"e","body":{"telephonySessionId":"ts-1","parties":[{"extensionId":"101","status":"Disconnected"}]}}`)
		first, err := rc.Normalize(body)
		require.NoError(t, err)
		second, err := rc.Normalize(body)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(first.Meta().ExternalEventID, "rc-"))
		assert.Equal(t, first.Meta().ExternalEventID, second.Meta().ExternalEventID)
	})

	errorCases := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"no agent party", `{"uuid":"u","event":"e","body":{"parties":[{"status":"Answered"}]}}`, domain.ErrUnsupportedEvent},
		{"hold is not a lifecycle change", `{"uuid":"u","event":"e","body":{"parties":[{"extensionId":"1","status":"Hold"}]}}`, domain.ErrUnsupportedEvent},
		{"validation handshake", `{"validationToken":"tok"}`, domain.ErrUnsupportedEvent},
		{"missing body", `{"uuid":"u","event":"e"}`, domain.ErrMalformedPayload},
		{"not json", `[`, domain.ErrMalformedPayload},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rc.Normalize([]byte(tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRingCentral_ValidationToken(t *testing.T) {
	rc := createTestRingCentral(t, nil)

	header := http.Header{}
	header.Set(ValidationTokenHeader, "from-header")
	assert.Equal(t, "from-header", rc.ValidationToken(header, nil))
	assert.Equal(t, "from-body", rc.ValidationToken(http.Header{}, []byte(`{"validationToken":"from-body"}`)))
	assert.Empty(t, rc.ValidationToken(http.Header{}, []byte(`{"uuid":"u"}`)))
}

// ============================================================================
// Outbound calls
// ============================================================================

func TestLiveChat_PushPresence(t *testing.T) {
	api := newFakeAPI(t)
	lc := createTestLiveChat(t, api)

	require.NoError(t, lc.PushPresence(context.Background(), testAgent(), domain.LiveChatNotAcceptingChats))

	req := api.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/agent/action/set_routing_status", req.Path)
	assert.Equal(t, "Bearer lc-token", req.Auth)
	assert.Equal(t, map[string]interface{}{"agent_id": "agent@example.com", "status": "not_accepting_chats"}, req.Body)
}

func TestLiveChat_PushConversationRecord(t *testing.T) {
	api := newFakeAPI(t)
	lc := createTestLiveChat(t, api)

	err := lc.PushConversationRecord(context.Background(), testRecord(&domain.Customer{ID: 1, Phone: strPtr("+14155550100")}))
	assert.ErrorIs(t, err, domain.ErrNoRemoteTarget)

	customer := &domain.Customer{ID: 1, Name: "Jane", LiveChatCustomerID: strPtr("cust-1"), Phone: strPtr("+14155550100")}
	require.NoError(t, lc.PushConversationRecord(context.Background(), testRecord(customer)))

	req := api.last(t)
	assert.Equal(t, "/agent/action/create_customer_note", req.Path)
	assert.Equal(t, "cust-1", req.Body["customer_id"])
	note := req.Body["note"].(map[string]interface{})
	assert.Equal(t, "RingCentral call - s-1", note["title"])
	assert.Contains(t, note["text"], "Duration: 90s")
	assert.Contains(t, note["text"], "Direction: inbound")
	assert.Contains(t, note["text"], "Customer: Jane, +14155550100")
}

func TestRingCentral_PushPresenceUsesJWTGrant(t *testing.T) {
	api := newFakeAPI(t)
	rc := createTestRingCentral(t, api)

	require.NoError(t, rc.PushPresence(context.Background(), testAgent(), domain.RingCentralBusy))

	req := api.last(t)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/restapi/v1.0/account/~/extension/101/presence", req.Path)
	assert.Equal(t, "Bearer rc-access", req.Auth)
	assert.Equal(t, map[string]interface{}{"userStatus": "Busy"}, req.Body)
}

func TestRingCentral_PushConversationRecord(t *testing.T) {
	api := newFakeAPI(t)
	rc := createTestRingCentral(t, api)

	record := testRecord(&domain.Customer{ID: 1, RingCentralContactID: strPtr("contact-5")})
	record.Conversation.Platform = domain.PlatformLiveChat
	record.Conversation.Type = domain.ConversationChat
	require.NoError(t, rc.PushConversationRecord(context.Background(), record))

	req := api.last(t)
	assert.Equal(t, "/restapi/v1.0/account/~/extension/101/note", req.Path)
	assert.Equal(t, "LiveChat chat - s-1", req.Body["subject"])
	assert.Equal(t, "contact-5", req.Body["contactId"])
}

func TestRingCentral_RejectedTokenIsPermanent(t *testing.T) {
	api := newFakeAPI(t)
	api.tokenErr = true
	rc := createTestRingCentral(t, api)

	err := rc.PushPresence(context.Background(), testAgent(), domain.RingCentralBusy)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.False(t, domain.Retryable(err))
}

func TestAPIClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		wantErr   error
		retryable bool
	}{
		{http.StatusUnauthorized, `{"error":{"type":"authentication","message":"token expired"}}`, domain.ErrPermanent, false},
		{http.StatusForbidden, `{}`, domain.ErrPermanent, false},
		{http.StatusNotFound, `{}`, domain.ErrPermanent, false},
		{http.StatusUnprocessableEntity, `{}`, domain.ErrPermanent, false},
		{http.StatusTooManyRequests, `{}`, domain.ErrRateLimited, true},
		{http.StatusBadGateway, `upstream down`, domain.ErrRemoteAPI, true},
		{http.StatusServiceUnavailable, `{}`, domain.ErrRemoteAPI, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api := newFakeAPI(t)
			api.respond(tt.status, tt.body)
			lc := createTestLiveChat(t, api)

			err := lc.PushPresence(context.Background(), testAgent(), domain.LiveChatAcceptingChats)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.retryable, domain.Retryable(err))

			var remoteErr *domain.RemoteError
			require.True(t, errors.As(err, &remoteErr))
			assert.Equal(t, tt.status, remoteErr.Status)
			assert.Equal(t, domain.PlatformLiveChat, remoteErr.Platform)
		})
	}
}

func TestAPIClient_ParsesErrorBody(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusUnauthorized, `{"error":{"type":"authentication","message":"token expired"}}`)

	err := createTestLiveChat(t, api).PushPresence(context.Background(), testAgent(), domain.LiveChatAcceptingChats)
	assert.Contains(t, err.Error(), "authentication: token expired")
}

func TestAPIClient_NetworkFailureIsTransient(t *testing.T) {
	api := newFakeAPI(t)
	lc := createTestLiveChat(t, api)
	api.server.Close()

	err := lc.PushPresence(context.Background(), testAgent(), domain.LiveChatAcceptingChats)
	assert.ErrorIs(t, err, domain.ErrRemoteAPI)
	assert.True(t, domain.Retryable(err))
}

func TestAPIClient_ContextTimeoutIsTransient(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		server.Close()
	})
	lc := NewLiveChat(config.LiveChatConfig{APIURL: server.URL, AccessToken: "t", WebhookSecret: testSecret})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := lc.PushPresence(ctx, testAgent(), domain.LiveChatAcceptingChats)
	assert.ErrorIs(t, err, domain.ErrRemoteAPI)
}
