package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostmarkSender_Send(t *testing.T) {
	var got outboundMessage
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(apiResult{MessageID: "msg-1"})
	}))
	defer srv.Close()

	s := NewPostmarkSender("token-123", WithEndpoint(srv.URL), WithMessageStream("licensing"))
	err := s.Send(context.Background(), Message{
		From:    "billing@vigilo.dev",
		To:      "owner@acme.test",
		Subject: "Grace period warning",
		HTML:    "<p>hi</p>",
		Text:    "hi",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotToken != "token-123" {
		t.Errorf("server token = %q", gotToken)
	}
	if got.To != "owner@acme.test" || got.Subject != "Grace period warning" {
		t.Errorf("unexpected outbound message: %+v", got)
	}
	if got.MessageStream != "licensing" {
		t.Errorf("MessageStream = %q", got.MessageStream)
	}
}

func TestPostmarkSender_APIErrorOnHTTP200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Postmark reports some failures with ErrorCode on a 200.
		json.NewEncoder(w).Encode(apiResult{ErrorCode: 406, Message: "inactive recipient"})
	}))
	defer srv.Close()

	s := NewPostmarkSender("token", WithEndpoint(srv.URL))
	err := s.Send(context.Background(), Message{To: "gone@acme.test", Subject: "x"})
	if err == nil {
		t.Fatal("expected error for non-zero ErrorCode")
	}
	if !strings.Contains(err.Error(), "406") || !strings.Contains(err.Error(), "inactive recipient") {
		t.Errorf("error = %v", err)
	}
}

func TestPostmarkSender_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(apiResult{ErrorCode: 10, Message: "bad token"})
	}))
	defer srv.Close()

	s := NewPostmarkSender("wrong", WithEndpoint(srv.URL))
	err := s.Send(context.Background(), Message{To: "owner@acme.test", Subject: "x"})
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("error = %v", err)
	}
}

func TestLogSender_AlwaysSucceeds(t *testing.T) {
	s := NewLogSender()
	if err := s.Send(context.Background(), Message{To: "owner@acme.test", Subject: "x", Text: strings.Repeat("a", 10000)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
