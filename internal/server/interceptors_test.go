package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func okHandler(context.Context, any) (any, error) { return "ok", nil }

func TestCheckBearer(t *testing.T) {
	for _, tc := range []struct {
		header string
		want   error
	}{
		{"", errNoCredentials},
		{"Basic secret", errAuthScheme},
		{"bearer secret", errAuthScheme},
		{"Bearer wrong", errBadToken},
		{"Bearer secret ", errBadToken},
		{"Bearer secret", nil},
	} {
		if got := checkBearer(tc.header, "secret"); got != tc.want {
			t.Errorf("checkBearer(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestAuthInterceptor(t *testing.T) {
	const clear = "/onix.v1.Admin/Clear"
	withAuth := func(v string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", v))
	}
	for _, tc := range []struct {
		name   string
		token  string
		ctx    context.Context
		method string
		want   codes.Code
	}{
		{"disabled", "", context.Background(), clear, codes.OK},
		{"health exempt", "secret", context.Background(), "/grpc.health.v1.Health/Check", codes.OK},
		{"no metadata", "secret", context.Background(), clear, codes.Unauthenticated},
		{"other metadata only", "secret", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x", "y")), clear, codes.Unauthenticated},
		{"wrong token", "secret", withAuth("Bearer wrong"), clear, codes.Unauthenticated},
		{"wrong scheme", "secret", withAuth("Basic secret"), clear, codes.Unauthenticated},
		{"valid", "secret", withAuth("Bearer secret"), clear, codes.OK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := AuthInterceptor(tc.token)(tc.ctx, nil, &grpc.UnaryServerInfo{FullMethod: tc.method}, okHandler)
			if got := status.Code(err); got != tc.want {
				t.Fatalf("code = %s, want %s (err %v)", got, tc.want, err)
			}
			if tc.want == codes.OK && resp != "ok" {
				t.Fatalf("handler not called, resp = %v", resp)
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	panicky := func(context.Context, any) (any, error) { panic("boom") }

	_, err := RecoveryInterceptor(logger)(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, panicky)
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %s, want Internal", status.Code(err))
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("panic value not logged: %s", buf.String())
	}
}

func TestLoggingInterceptor_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	li := LoggingInterceptor(logger)

	_, _ = li(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, okHandler)
	if buf.Len() != 0 {
		t.Fatalf("health checks should log below info, got %s", buf.String())
	}

	failing := func(context.Context, any) (any, error) { return nil, status.Error(codes.NotFound, "gone") }
	_, _ = li(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, failing)
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "code=NotFound") {
		t.Errorf("unexpected log line: %s", out)
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	for _, tc := range []struct {
		name   string
		token  string
		method string
		path   string
		header string
		want   int
	}{
		{"disabled", "", http.MethodGet, "/v1/items", "", http.StatusNoContent},
		{"no header", "secret", http.MethodGet, "/v1/items", "", http.StatusUnauthorized},
		{"wrong token", "secret", http.MethodGet, "/v1/items", "Bearer wrong", http.StatusUnauthorized},
		{"wrong scheme", "secret", http.MethodPut, "/v1/items/a", "Basic secret", http.StatusUnauthorized},
		{"valid", "secret", http.MethodDelete, "/v1/items/a", "Bearer secret", http.StatusNoContent},
		{"health exempt", "secret", http.MethodGet, "/v1/health", "", http.StatusNoContent},
		{"health exempt only for GET", "secret", http.MethodPost, "/v1/health", "", http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tc.token, next).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tc.want, rec.Body.String())
			}
			if rec.Code == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"code":"Unauthenticated"`) {
				t.Errorf("401 body = %s", rec.Body.String())
			}
		})
	}
}
