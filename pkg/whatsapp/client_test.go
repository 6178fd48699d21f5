package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendTemplateMessage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/123456/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("authorization = %q", got)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["messaging_product"] != "whatsapp" {
			t.Errorf("messaging_product = %v", req["messaging_product"])
		}
		if req["to"] != "+491701234567" {
			t.Errorf("to = %v", req["to"])
		}
		if req["type"] != "template" {
			t.Errorf("type = %v", req["type"])
		}
		tmpl, _ := req["template"].(map[string]interface{})
		if tmpl["name"] != "session_reminder" {
			t.Errorf("template name = %v", tmpl["name"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`))
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:       server.URL,
		AccessToken:   "token-1",
		PhoneNumberID: "123456",
		Timeout:       5 * time.Second,
	}, nil)

	components := []Component{
		{Type: "body", Parameters: []Parameter{{Type: "text", Text: "Anna"}}},
	}
	err := client.SendTemplateMessage(context.Background(), "tenant-1", "+491701234567", "session_reminder", components)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendFreeFormMessage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["type"] != "text" {
			t.Errorf("type = %v", req["type"])
		}
		text, _ := req["text"].(map[string]interface{})
		if text["body"] != "Hi Anna!" {
			t.Errorf("body = %v", text["body"])
		}
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.2"}]}`))
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:       server.URL,
		PhoneNumberID: "123456",
		Timeout:       5 * time.Second,
	}, nil)

	if err := client.SendFreeFormMessage(context.Background(), "tenant-1", "+491701234567", "Hi Anna!"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendFreeFormMessage_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","type":"OAuthException","code":131030}}`))
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:       server.URL,
		PhoneNumberID: "123456",
		Timeout:       5 * time.Second,
		MaxRetries:    0,
	}, nil)

	err := client.SendFreeFormMessage(context.Background(), "tenant-1", "+491", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "131030") {
		t.Errorf("error should carry the API error code: %v", err)
	}
}

func TestDoRequestWithRetry_RecoversAfterFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"temporarily unavailable","code":1}}`))
			return
		}
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.3"}]}`))
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:       server.URL,
		PhoneNumberID: "123456",
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
	}, nil)

	if err := client.SendFreeFormMessage(context.Background(), "tenant-1", "+491", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestDoRequestWithRetry_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:       server.URL,
		PhoneNumberID: "123456",
		Timeout:       5 * time.Second,
		MaxRetries:    5,
		RetryDelay:    time.Hour, // retry wait must be interrupted by the context
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.SendFreeFormMessage(ctx, "tenant-1", "+491", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
}
