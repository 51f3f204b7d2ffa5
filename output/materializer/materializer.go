package materializer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/pli01/swiftsink/internal/log"
	"github.com/pli01/swiftsink/output/chunk"
	swifterrors "github.com/pli01/swiftsink/output/errors"
)

const (
	DefaultLzopCommand  = "lzop"
	artifactPattern     = "swift-"
	intermediatePattern = "chunk-tmp-"
)

type (
	// Materializer 将 chunk 写成待上传的临时文件
	Materializer struct {
		Descriptor ContentDescriptor
		// TempDir 为空时使用 os.TempDir()
		TempDir string
		// LzopCommand 为空时使用 lzop
		LzopCommand string
	}

	// Artifact 待上传的临时文件，由调用方独占，Close 时删除
	Artifact struct {
		path      string
		size      int64
		closeOnce sync.Once
		closeErr  error
	}
)

func (materializer *Materializer) lzopCommand() string {
	if materializer.LzopCommand == "" {
		return DefaultLzopCommand
	}
	return materializer.LzopCommand
}

// CheckFormat 配置阶段检查存储格式可用。lzo 需要能执行 lzop -V
func (materializer *Materializer) CheckFormat(ctx context.Context) error {
	if materializer.Descriptor.Format != FormatLzo {
		return nil
	}
	cmd := exec.CommandContext(ctx, materializer.lzopCommand(), "-V")
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &swifterrors.ConfigurationError{
				Field:  "store_as",
				Reason: "'" + materializer.lzopCommand() + " -V' failed: " + strings.TrimSpace(stderr.String()),
				Err:    err,
			}
		}
		return &swifterrors.ConfigurationError{
			Field:  "store_as",
			Reason: "'" + materializer.lzopCommand() + "' utility must be in PATH for LZO compression",
			Err:    err,
		}
	}
	return nil
}

// Materialize 将 chunk 写入新的临时文件，任何失败都会删除已创建的临时文件
func (materializer *Materializer) Materialize(ctx context.Context, c chunk.Chunk) (*Artifact, error) {
	file, err := os.CreateTemp(materializer.TempDir, artifactPattern)
	if err != nil {
		return nil, materializer.newError("", err)
	}
	artifact := &Artifact{path: file.Name()}

	switch materializer.Descriptor.Format {
	case FormatGzip:
		err = writeGzip(file, c)
	case FormatZstd:
		err = writeZstd(file, c)
	case FormatLzo:
		if err = file.Close(); err == nil {
			err = materializer.writeLzo(ctx, artifact.path, c)
		}
	default:
		_, err = c.WriteTo(file)
	}
	if closeErr := file.Close(); err == nil && closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		err = closeErr
	}
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(artifact.path); err == nil {
			artifact.size = info.Size()
		}
	}
	if err != nil {
		artifact.Close()
		return nil, materializer.newError(artifact.path, err)
	}
	return artifact, nil
}

func (materializer *Materializer) newError(path string, err error) error {
	return &swifterrors.MaterializationError{Format: string(materializer.Descriptor.Format), Path: path, Err: err}
}

func writeGzip(w io.Writer, c chunk.Chunk) error {
	gw := gzip.NewWriter(w)
	if _, err := c.WriteTo(gw); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func writeZstd(w io.Writer, c chunk.Chunk) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err = c.WriteTo(zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// lzop 只能处理文件，先将 chunk 写入中间文件再压缩到 artifactPath
func (materializer *Materializer) writeLzo(ctx context.Context, artifactPath string, c chunk.Chunk) error {
	intermediate, err := os.CreateTemp(materializer.TempDir, intermediatePattern)
	if err != nil {
		return err
	}
	defer os.Remove(intermediate.Name())

	if _, err = c.WriteTo(intermediate); err != nil {
		intermediate.Close()
		return err
	}
	if err = intermediate.Close(); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, materializer.lzopCommand(), "-qf1", "-o", artifactPath, intermediate.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err = cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			log.Error("lzop: " + msg)
		}
		return err
	}
	return nil
}

func (artifact *Artifact) Path() string {
	return artifact.path
}

func (artifact *Artifact) Size() int64 {
	return artifact.size
}

// Open 打开临时文件用于读取
func (artifact *Artifact) Open() (*os.File, error) {
	return os.Open(artifact.path)
}

// Close 删除临时文件，可以多次调用
func (artifact *Artifact) Close() error {
	artifact.closeOnce.Do(func() {
		if err := os.Remove(artifact.path); err != nil && !os.IsNotExist(err) {
			artifact.closeErr = err
		}
	})
	return artifact.closeErr
}
