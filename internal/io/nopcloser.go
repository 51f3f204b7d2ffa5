package io

import (
	"io"
)

type KnownLength interface {
	DetectLength() (int64, error)
}

// ReadSeekableNopCloser 包装 io.ReadSeeker，Close 不关闭底层数据源，
// 使请求重试时可以 Seek 回起点重新发送，而文件的生命周期仍由调用方管理
type ReadSeekableNopCloser struct {
	r io.ReadSeeker
}

func NewReadSeekableNopCloser(r io.ReadSeeker) ReadSeekableNopCloser {
	return ReadSeekableNopCloser{r: r}
}

func (nc ReadSeekableNopCloser) Read(p []byte) (int, error) {
	return nc.r.Read(p)
}

func (nc ReadSeekableNopCloser) Seek(offset int64, whence int) (int64, error) {
	return nc.r.Seek(offset, whence)
}

func (nc ReadSeekableNopCloser) DetectLength() (int64, error) {
	if kl, ok := nc.r.(KnownLength); ok {
		return kl.DetectLength()
	}
	cur, err := nc.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	length, err := nc.r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, err = nc.r.Seek(cur, io.SeekStart)
	if err != nil {
		return 0, err
	}
	return length - cur, nil
}

func (nc ReadSeekableNopCloser) Close() error {
	return nil
}
