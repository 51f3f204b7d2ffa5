package swift

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pli01/swiftsink/internal/clientv2"
	"github.com/pli01/swiftsink/internal/dialer"
	"github.com/pli01/swiftsink/internal/log"
)

var (
	ErrEmptyToken      = errors.New("swift: empty auth token")
	ErrEmptyStorageURL = errors.New("swift: storage url is required")
)

type (
	// Options Swift 客户端选项
	Options struct {
		// StorageURL 形如 https://swift.example.com/v1/AUTH_project
		StorageURL string
		// Account 不为空时替换 StorageURL 的最后一段
		Account       string
		TokenProvider TokenProvider
		// InsecureSkipVerify 关闭 TLS 证书校验
		InsecureSkipVerify bool
		// ProxyURL 为空时使用环境变量中的代理
		ProxyURL string
		// RetryMax 5xx 和网络错误的重试次数
		RetryMax int
		// Timeout 单个请求的超时，0 表示不限制
		Timeout time.Duration
		// DialTimeout 建立连接的超时，0 表示使用默认值
		DialTimeout time.Duration
		// HTTPClient 不为空时忽略上面的连接选项
		HTTPClient   clientv2.Client
		Interceptors []clientv2.Interceptor
	}

	// Client 基于 Swift REST API 的 Gateway 实现
	Client struct {
		storageURL string
		client     clientv2.Client
	}
)

var _ Gateway = (*Client)(nil)

// NewClient 创建 Swift 客户端
func NewClient(options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}
	storageURL, err := resolveStorageURL(options.StorageURL, options.Account)
	if err != nil {
		return nil, err
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		if httpClient, err = newHTTPClient(options); err != nil {
			return nil, err
		}
	}

	interceptors := make([]clientv2.Interceptor, 0, len(options.Interceptors)+3)
	interceptors = append(interceptors, options.Interceptors...)
	interceptors = append(interceptors, clientv2.InterceptorFunc(logFailedAttempt))
	if options.TokenProvider != nil {
		interceptors = append(interceptors, clientv2.NewAuthInterceptor(clientv2.AuthConfig{
			TokenSource: options.TokenProvider,
			SignError: func(req *http.Request, err error) {
				log.Error("swift: cannot get auth token for " + req.Method + " " + req.URL.Path + ": " + err.Error())
			},
		}))
	}
	if options.RetryMax > 0 {
		interceptors = append(interceptors, clientv2.NewSimpleRetryInterceptor(clientv2.RetryOptions{
			RetryMax: options.RetryMax,
		}))
	}

	return &Client{
		storageURL: storageURL,
		client:     clientv2.NewClient(httpClient, interceptors...),
	}, nil
}

// logFailedAttempt 每次失败的请求都记录 Swift 的 X-Trans-Id，包括之后被重试成功的请求。404 是正常的探测结果
func logFailedAttempt(req *http.Request, next clientv2.Handler) (*http.Response, error) {
	resp, err := next(req)
	if resp == nil || resp.StatusCode < 400 || resp.StatusCode == http.StatusNotFound {
		return resp, err
	}
	log.Warn(fmt.Sprintf("swift: %s %s returned %d (X-Trans-Id: %s)",
		req.Method, req.URL.Path, resp.StatusCode, resp.Header.Get("X-Trans-Id")))
	return resp, err
}

func newHTTPClient(options *Options) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&dialer.Dialer{Timeout: options.DialTimeout}).DialContext
	if options.ProxyURL != "" {
		proxyURL, err := url.Parse(options.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if options.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	return &http.Client{Transport: transport, Timeout: options.Timeout}, nil
}

func resolveStorageURL(storageURL, account string) (string, error) {
	storageURL = strings.TrimRight(strings.TrimSpace(storageURL), "/")
	if storageURL == "" {
		return "", ErrEmptyStorageURL
	}
	u, err := url.Parse(storageURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("swift: invalid storage url " + storageURL)
	}
	if account != "" {
		if i := strings.LastIndex(u.Path, "/"); i >= 0 {
			u.Path = u.Path[:i+1] + account
		} else {
			u.Path = "/" + account
		}
		u.RawPath = ""
	}
	return u.String(), nil
}

// StorageURL 替换账号后的存储地址
func (client *Client) StorageURL() string {
	return client.storageURL
}

func (client *Client) containerURL(container string) string {
	return client.storageURL + "/" + url.PathEscape(container)
}

func (client *Client) objectURL(container, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return client.containerURL(container) + "/" + strings.Join(segments, "/")
}

func (client *Client) head(ctx context.Context, u string) (bool, error) {
	_, err := clientv2.DoAndDiscard(client.client, clientv2.RequestParams{
		Context: ctx,
		Method:  clientv2.RequestMethodHead,
		Url:     u,
	})
	if err != nil {
		var respErr *clientv2.ResponseError
		if errors.As(err, &respErr) && respErr.IsNotFound() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (client *Client) Exists(ctx context.Context, container, key string) (bool, error) {
	return client.head(ctx, client.objectURL(container, key))
}

func (client *Client) ContainerExists(ctx context.Context, container string) (bool, error) {
	return client.head(ctx, client.containerURL(container))
}

func (client *Client) CreateContainer(ctx context.Context, container string) error {
	_, err := clientv2.DoAndDiscard(client.client, clientv2.RequestParams{
		Context: ctx,
		Method:  clientv2.RequestMethodPut,
		Url:     client.containerURL(container),
	})
	return err
}

// Create 上传对象。body 可 Seek 时请求失败会从头重试，否则不重试
func (client *Client) Create(ctx context.Context, container, key string, body io.Reader, contentType string) error {
	var getBody clientv2.GetRequestBody
	if seeker, ok := body.(io.ReadSeeker); ok {
		getBody = clientv2.GetReadSeekerRequestBody(seeker, contentType)
	} else {
		getBody = func(o *clientv2.RequestParams) (io.ReadCloser, error) {
			if contentType != "" {
				o.Header.Set("Content-Type", contentType)
			}
			return io.NopCloser(body), nil
		}
	}
	_, err := clientv2.DoAndDiscard(client.client, clientv2.RequestParams{
		Context: ctx,
		Method:  clientv2.RequestMethodPut,
		Url:     client.objectURL(container, key),
		GetBody: getBody,
	})
	return err
}
