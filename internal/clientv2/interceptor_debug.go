package clientv2

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"

	"github.com/pli01/swiftsink/conf"
	"github.com/pli01/swiftsink/internal/log"
)

var (
	printRequestTrace         = false
	printRequest        *bool = nil
	printResponse       *bool = nil
)

func PrintRequestTrace(isPrint bool) {
	printRequestTrace = isPrint
}

func IsPrintRequestTrace() bool {
	return printRequestTrace
}

func PrintRequest(isPrint bool) {
	printRequest = &isPrint
}

func IsPrintRequest() bool {
	if printRequest != nil {
		return *printRequest
	}
	return conf.IsDebugMode()
}

func PrintResponse(isPrint bool) {
	printResponse = &isPrint
}

func IsPrintResponse() bool {
	if printResponse != nil {
		return *printResponse
	}
	return conf.IsDebugMode()
}

type debugInterceptor struct {
}

func newDebugInterceptor() Interceptor {
	return &debugInterceptor{}
}

func (r *debugInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityDebug
}

func (r *debugInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	label := r.requestLabel(req)

	if e := r.printRequest(label, req); e != nil {
		return nil, e
	}

	req = r.printRequestTrace(label, req)

	resp, err := handler(req)

	if e := r.printResponse(label, resp); e != nil {
		return nil, e
	}

	return resp, err
}

func (r *debugInterceptor) requestLabel(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return fmt.Sprintf("Url:%s", req.URL.String())
}

func (r *debugInterceptor) printRequest(label string, req *http.Request) error {
	if req == nil || !IsPrintRequest() {
		return nil
	}

	// 请求体是上传的对象内容，不打印
	i, dErr := httputil.DumpRequestOut(stripAuthToken(req), false)
	if dErr != nil {
		return dErr
	}
	log.Debug(label + " request:\n" + string(i))
	return nil
}

func stripAuthToken(req *http.Request) *http.Request {
	if req.Header.Get(HeaderAuthToken) == "" {
		return req
	}
	clone := req.Clone(req.Context())
	clone.Body = nil
	clone.ContentLength = 0
	clone.Header.Set(HeaderAuthToken, "******")
	return clone
}

func (r *debugInterceptor) printRequestTrace(label string, req *http.Request) *http.Request {
	if req == nil || !IsPrintRequestTrace() {
		return req
	}

	label += "\n"
	trace := &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			log.Debug(label + fmt.Sprintf("GetConn, %s", hostPort))
		},
		GotConn: func(connInfo httptrace.GotConnInfo) {
			remoteAddr := connInfo.Conn.RemoteAddr()
			log.Debug(label + fmt.Sprintf("GotConn, Network:%s RemoteAddr:%s", remoteAddr.Network(), remoteAddr.String()))
		},
		GotFirstResponseByte: func() {
			log.Debug(label + "GotFirstResponseByte")
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			log.Debug(label + fmt.Sprintf("DNSDone, addr:%+v", info.Addrs))
		},
		ConnectDone: func(network, addr string, err error) {
			log.Debug(label + fmt.Sprintf("ConnectDone, network:%s ip:%s err:%v", network, addr, err))
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			log.Debug(label + fmt.Sprintf("TLSHandshakeDone, version:%x err:%v", state.Version, err))
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			log.Debug(label + fmt.Sprintf("WroteRequest, err:%v", info.Err))
		},
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
}

func (r *debugInterceptor) printResponse(label string, resp *http.Response) error {
	if resp == nil || !IsPrintResponse() {
		return nil
	}

	i, dErr := httputil.DumpResponse(resp, false)
	if dErr != nil {
		return dErr
	}
	log.Debug(label + " response:\n" + string(i))
	return nil
}
