package clientv2

import (
	"context"
	"net/http"
)

// TokenSource 提供 X-Auth-Token，由外部的认证会话负责获取和刷新
type TokenSource interface {
	Token(context.Context) (string, error)
}

type AuthConfig struct {
	// 鉴权 Token 来源
	TokenSource TokenSource
	// 签名前回调函数
	BeforeSign func(*http.Request)
	// 签名后回调函数
	AfterSign func(*http.Request)
	// 签名失败回调函数
	SignError func(*http.Request, error)
}

const HeaderAuthToken = "X-Auth-Token"

type authInterceptor struct {
	config AuthConfig
}

func NewAuthInterceptor(config AuthConfig) Interceptor {
	return &authInterceptor{
		config: config,
	}
}

func (interceptor *authInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityAuth
}

func (interceptor *authInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if interceptor == nil || req == nil {
		return handler(req)
	}

	if tokenSource := interceptor.config.TokenSource; tokenSource != nil {
		if interceptor.config.BeforeSign != nil {
			interceptor.config.BeforeSign(req)
		}
		token, err := tokenSource.Token(req.Context())
		if err != nil {
			if interceptor.config.SignError != nil {
				interceptor.config.SignError(req, err)
			}
			return nil, err
		}
		req.Header.Set(HeaderAuthToken, token)
		if interceptor.config.AfterSign != nil {
			interceptor.config.AfterSign(req)
		}
	}

	return handler(req)
}
