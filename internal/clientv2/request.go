package clientv2

import (
	"context"
	"io"
	"net/http"

	internal_io "github.com/pli01/swiftsink/internal/io"
)

const (
	RequestMethodGet    = http.MethodGet
	RequestMethodPut    = http.MethodPut
	RequestMethodHead   = http.MethodHead
	RequestMethodDelete = http.MethodDelete
)

type GetRequestBody func(options *RequestParams) (io.ReadCloser, error)

// GetReadSeekerRequestBody 请求体来自可 Seek 的数据源，重试时从头重新发送
func GetReadSeekerRequestBody(r io.ReadSeeker, contentType string) GetRequestBody {
	return func(o *RequestParams) (io.ReadCloser, error) {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if contentType != "" {
			o.Header.Set("Content-Type", contentType)
		}
		return internal_io.NewReadSeekableNopCloser(r), nil
	}
}

type RequestParams struct {
	Context context.Context
	Method  string
	Url     string
	Header  http.Header
	GetBody GetRequestBody
}

func (o *RequestParams) init() {
	if o.Context == nil {
		o.Context = context.Background()
	}

	if len(o.Method) == 0 {
		o.Method = RequestMethodGet
	}

	if o.Header == nil {
		o.Header = http.Header{}
	}

	if o.GetBody == nil {
		o.GetBody = func(options *RequestParams) (io.ReadCloser, error) {
			return nil, nil
		}
	}
}

func NewRequest(options RequestParams) (req *http.Request, err error) {
	options.init()

	body, err := options.GetBody(&options)
	if err != nil {
		return nil, err
	}
	req, err = http.NewRequestWithContext(options.Context, options.Method, options.Url, body)
	if err != nil {
		return
	}
	req.Header = options.Header
	if body != nil && body != http.NoBody {
		if kl, ok := body.(internal_io.KnownLength); ok {
			if length, lerr := kl.DetectLength(); lerr == nil {
				req.ContentLength = length
				if length == 0 {
					req.Body = http.NoBody
				}
			}
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return options.GetBody(&options)
		}
	}
	return
}
