package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhook_PostsSignedJSON(t *testing.T) {
	t.Parallel()

	const secret = "s3cret"
	var gotBody []byte
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, secret)
	f := Failure{
		EventID:    "nightly-backup",
		Error:      "exit status 1",
		Recipients: []string{"ops@example.com"},
		Timestamp:  time.Now().UTC(),
	}
	if err := wh.NotifyFailure(context.Background(), f); err != nil {
		t.Fatalf("NotifyFailure failed: %v", err)
	}

	var decoded Failure
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded.EventID != "nightly-backup" {
		t.Errorf("event_id = %q", decoded.EventID)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhook_NoSecretNoSignature(t *testing.T) {
	t.Parallel()

	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "")
	if err := wh.NotifyFailure(context.Background(), Failure{EventID: "x"}); err != nil {
		t.Fatalf("NotifyFailure failed: %v", err)
	}
	if gotSig != "" {
		t.Errorf("unexpected signature header %q", gotSig)
	}
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "")
	if err := wh.NotifyFailure(context.Background(), Failure{EventID: "x"}); err == nil {
		t.Fatal("5xx response should be an error")
	}
}

func TestLogNotifier_NeverFails(t *testing.T) {
	t.Parallel()

	n := NewLogNotifier(nil)
	if err := n.NotifyFailure(context.Background(), Failure{EventID: "x", Error: "boom"}); err != nil {
		t.Fatalf("LogNotifier returned %v", err)
	}
}
