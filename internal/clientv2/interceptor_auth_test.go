//go:build unit
// +build unit

package clientv2

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no token")
	}
	return string(s), nil
}

func TestAuthInterceptor(t *testing.T) {
	interceptor := NewAuthInterceptor(AuthConfig{
		TokenSource: staticTokenSource("AUTH_tk0123"),
		BeforeSign: func(req *http.Request) {
			if token := req.Header.Get(HeaderAuthToken); token != "" {
				t.Fatal("X-Auth-Token header should be empty")
			}
		},
		AfterSign: func(req *http.Request) {
			if token := req.Header.Get(HeaderAuthToken); token != "AUTH_tk0123" {
				t.Fatalf("Unexpected X-Auth-Token header: %s", token)
			}
		},
	})
	c := NewClient(&testClient{statusCode: http.StatusOK}, interceptor)
	resp, err := Do(c, RequestParams{
		Method: RequestMethodHead,
		Url:    "https://swift.example.com/v1/AUTH_test/logs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatal("status code not 200")
	}
}

func TestAuthInterceptorSignError(t *testing.T) {
	signErrorCalled := false
	interceptor := NewAuthInterceptor(AuthConfig{
		TokenSource: staticTokenSource(""),
		SignError: func(*http.Request, error) {
			signErrorCalled = true
		},
	})
	c := NewClient(&testClient{statusCode: http.StatusOK}, interceptor)
	if _, err := Do(c, RequestParams{Url: "https://swift.example.com/v1/AUTH_test"}); err == nil {
		t.Fatal("expected error")
	}
	if !signErrorCalled {
		t.Fatal("SignError should be called")
	}
}
