package conf

import (
	"github.com/pli01/swiftsink/internal/env"
)

const Version = "1.2.0"

const (
	CONTENT_TYPE_JSON  = "application/json"
	CONTENT_TYPE_GZIP  = "application/x-gzip"
	CONTENT_TYPE_LZOP  = "application/x-lzop"
	CONTENT_TYPE_ZSTD  = "application/zstd"
	CONTENT_TYPE_PLAIN = "text/plain"
	CONTENT_TYPE_OCTET = "application/octet-stream"
)

// UserAgent 所有请求携带的 User-Agent
func UserAgent() string {
	return "swiftsink/" + Version
}

func IsDebugMode() bool {
	isDebug, _ := env.DebugModeFromEnvironment()
	return isDebug
}
