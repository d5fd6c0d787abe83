package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	})
}

func serverTimePayload(at uint64) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	return protowire.AppendVarint(b, at)
}

func TestDoDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ITwoFactorService/QueryTime/v1/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("X-eresult", "1")
		_, _ = w.Write(serverTimePayload(1700000042))
	}))
	defer srv.Close()

	call := &Call{
		Service:  ServiceTwoFactor,
		Method:   "QueryTime",
		Request:  &QueryTimeRequest{},
		Response: &QueryTimeResponse{},
	}
	if err := testClient(t, srv).Do(context.Background(), call); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !call.Result.OK() {
		t.Fatalf("Result = %s", call.Result)
	}
	if got := call.Response.(*QueryTimeResponse).ServerTime; got != 1700000042 {
		t.Fatalf("ServerTime = %d", got)
	}
}

func TestDoSendsEncodedRequestAndToken(t *testing.T) {
	var gotPayload, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotPayload = r.PostFormValue("input_protobuf_encoded")
		gotToken = r.PostFormValue("access_token")
	}))
	defer srv.Close()

	call := &Call{
		Service:     ServiceAuthentication,
		Method:      "GenerateAccessTokenForApp",
		AccessToken: "tok-123",
		Request:     &GenerateAccessTokenRequest{RefreshToken: "refresh", SteamID: 7},
	}
	if err := testClient(t, srv).Do(context.Background(), call); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if gotToken != "tok-123" {
		t.Fatalf("access_token = %q", gotToken)
	}
	raw, err := base64.StdEncoding.DecodeString(gotPayload)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	var req GenerateAccessTokenRequest
	err = walkWire(raw, func(f wireField) error {
		switch f.num {
		case 1:
			req.RefreshToken = f.string()
		case 2:
			req.SteamID = f.uint64()
		}
		return nil
	})
	if err != nil || req.RefreshToken != "refresh" || req.SteamID != 7 {
		t.Fatalf("decoded request %+v, err %v", req, err)
	}
}

func TestDoRetriesConnectionResets(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 3 {
			// Drop the connection without a response.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack failed: %v", err)
			}
			conn.Close()
			return
		}
		w.Header().Set("X-eresult", "1")
		_, _ = w.Write(serverTimePayload(1))
	}))
	defer srv.Close()

	call := &Call{Service: ServiceTwoFactor, Method: "QueryTime", Response: &QueryTimeResponse{}}
	if err := testClient(t, srv).Do(context.Background(), call); err != nil {
		t.Fatalf("expected transparent retry to succeed, got %v", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
}

func TestDoRetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	call := &Call{Service: ServiceTwoFactor, Method: "QueryTime"}
	err := testClient(t, srv).Do(context.Background(), call)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", got)
	}
}

func TestDoDoesNotRetryUnauthorized(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("X-eresult", "15") // AccessDenied
	}))
	defer srv.Close()

	call := &Call{Service: ServiceAuthentication, Method: "PollAuthSessionStatus"}
	err := testClient(t, srv).Do(context.Background(), call)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("authorization failures must not be retried, got %d attempts", got)
	}
}

func TestDoSurfacesPlatformResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-eresult", "88") // TwoFactorCodeMismatch
	}))
	defer srv.Close()

	call := &Call{Service: ServiceAuthentication, Method: "UpdateAuthSessionWithSteamGuardCode"}
	if err := testClient(t, srv).Do(context.Background(), call); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if call.Result != ResultTwoFactorCodeMismatch {
		t.Fatalf("Result = %s", call.Result)
	}
}

func TestDoRetryHookFires(t *testing.T) {
	var attempts atomic.Int32
	var retries atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-eresult", "1")
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:        srv.URL,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		OnRetry:        func() { retries.Add(1) },
	})
	call := &Call{Service: ServiceTwoFactor, Method: "QueryTime"}
	if err := client.Do(context.Background(), call); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if retries.Load() != 1 {
		t.Fatalf("expected one retry observation, got %d", retries.Load())
	}
}

func TestDoContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	call := &Call{Service: ServiceTwoFactor, Method: "QueryTime"}
	if err := testClient(t, srv).Do(ctx, call); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
