package clientv2

import (
	"net/http"

	internal_io "github.com/pli01/swiftsink/internal/io"
)

type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

type Handler func(req *http.Request) (*http.Response, error)

type client struct {
	coreClient   Client
	interceptors []Interceptor
}

func NewClient(cli Client, interceptors ...Interceptor) Client {
	if cli == nil {
		if http.DefaultClient != nil {
			cli = http.DefaultClient
		} else {
			cli = &http.Client{}
		}
	}

	all := make([]Interceptor, 0, len(interceptors)+2)
	all = append(all, interceptors...)
	all = append(all, newDefaultHeaderInterceptor(), newDebugInterceptor())

	return &client{
		coreClient:   cli,
		interceptors: chain(all),
	}
}

func (c *client) Do(req *http.Request) (*http.Response, error) {
	handler := func(req *http.Request) (*http.Response, error) {
		return c.coreClient.Do(req)
	}

	// 从最内层开始包装，chain 中第一个拦截器最先执行
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next := handler
		interceptor := c.interceptors[i]
		handler = func(r *http.Request) (*http.Response, error) {
			return interceptor.Intercept(r, next)
		}
	}

	return handler(req)
}

// Do 发送请求，非 2xx 响应转换为 *ResponseError，响应体由调用方负责关闭
func Do(c Client, options RequestParams) (*http.Response, error) {
	req, err := NewRequest(options)
	if err != nil {
		return nil, err
	}

	return handleResponseAndError(c.Do(req))
}

// DoAndDiscard 发送请求并丢弃响应体，适用于 HEAD / PUT 这类只关心状态码的请求
func DoAndDiscard(c Client, options RequestParams) (*http.Response, error) {
	resp, err := Do(c, options)
	if resp != nil && resp.Body != nil {
		_ = internal_io.SinkAll(resp.Body)
		resp.Body.Close()
	}
	return resp, err
}

func handleResponseAndError(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		return resp, err
	}

	if resp == nil {
		return nil, &ResponseError{
			StatusCode: -999,
			Message:    "unknown error, no response",
		}
	}

	if resp.StatusCode/100 != 2 {
		return resp, NewResponseError(resp)
	}

	return resp, nil
}
