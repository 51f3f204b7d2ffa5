package swift

import (
	"context"
	"io"
)

// Gateway 投递流水线用到的全部对象存储操作，实现必须并发安全
type Gateway interface {
	// Exists 对象是否存在，不存在不是错误
	Exists(ctx context.Context, container, key string) (bool, error)
	// Create 写入对象，已存在时覆盖
	Create(ctx context.Context, container, key string, body io.Reader, contentType string) error
	// ContainerExists 容器是否存在
	ContainerExists(ctx context.Context, container string) (bool, error)
	// CreateContainer 创建容器，已存在时不报错
	CreateContainer(ctx context.Context, container string) error
}

// TokenProvider 提供 X-Auth-Token，获取和刷新凭证由调用方负责
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider 固定的 Token
type StaticTokenProvider string

func (token StaticTokenProvider) Token(context.Context) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	return string(token), nil
}
