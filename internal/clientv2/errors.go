package clientv2

import (
	"fmt"
	"net/http"
	"strings"

	internal_io "github.com/pli01/swiftsink/internal/io"
)

const maxErrorBodyLength = 512

// ResponseError 服务端返回的非 2xx 响应
type ResponseError struct {
	StatusCode int
	Method     string
	Url        string
	TransId    string
	Message    string
}

func NewResponseError(resp *http.Response) *ResponseError {
	err := &ResponseError{StatusCode: resp.StatusCode}
	if req := resp.Request; req != nil {
		err.Method = req.Method
		if req.URL != nil {
			err.Url = req.URL.String()
		}
	}
	err.TransId = resp.Header.Get("X-Trans-Id")
	if resp.Body != nil {
		if body, rerr := internal_io.ReadAtMost(resp.Body, maxErrorBodyLength); rerr == nil {
			err.Message = strings.TrimSpace(string(body))
		}
	}
	if err.Message == "" {
		err.Message = http.StatusText(resp.StatusCode)
	}
	return err
}

func (err *ResponseError) Error() string {
	s := fmt.Sprintf("%s %s: status %d: %s", err.Method, err.Url, err.StatusCode, err.Message)
	if err.TransId != "" {
		s += ", trans-id: " + err.TransId
	}
	return s
}

func (err *ResponseError) IsNotFound() bool {
	return err != nil && err.StatusCode == http.StatusNotFound
}
