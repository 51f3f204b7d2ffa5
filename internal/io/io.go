package io

import (
	"bytes"
	"io"
	"strings"
)

// ReadAtMost 最多读取 n 个字节，用于截取错误响应体
func ReadAtMost(r io.Reader, n int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r, n))
}

func SinkAll(r io.Reader) (err error) {
	switch b := r.(type) {
	case *bytes.Buffer:
		b.Truncate(0)
	case *bytes.Reader:
		_, err = b.Seek(0, io.SeekEnd)
	case *strings.Reader:
		_, err = b.Seek(0, io.SeekEnd)
	default:
		_, err = io.Copy(io.Discard, r)
	}
	return
}
