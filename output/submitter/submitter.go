package submitter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"modernc.org/fileutil"

	"github.com/pli01/swiftsink/internal/log"
	"github.com/pli01/swiftsink/output/chunk"
	swifterrors "github.com/pli01/swiftsink/output/errors"
	"github.com/pli01/swiftsink/output/materializer"
)

type (
	// Uploader 写入对象
	Uploader interface {
		Create(ctx context.Context, container, key string, body io.Reader, contentType string) error
	}

	// StateForgetter 上传成功后释放 chunk 状态
	StateForgetter interface {
		Forget(id chunk.UniqueID)
	}

	// Submitter 将生成好的临时文件上传到对象存储
	Submitter struct {
		Uploader Uploader
		State    StateForgetter
		// OnUploaded 上传成功后回调，可以为空
		OnUploaded func(container, key string, size int64, elapsed time.Duration)
	}
)

// Submit 上传 artifact。成功后删除 chunk 状态；失败时返回 TransportError 并保留状态，
// 使调度器重试时生成相同的对象名。artifact 仍由调用方关闭
func (submitter *Submitter) Submit(ctx context.Context, id chunk.UniqueID, container, key string,
	artifact *materializer.Artifact, descriptor materializer.ContentDescriptor) error {
	file, err := artifact.Open()
	if err != nil {
		return &swifterrors.MaterializationError{Format: string(descriptor.Format), Path: artifact.Path(), Err: err}
	}
	defer file.Close()
	_ = fileutil.Fadvise(file, 0, 0, fileutil.POSIX_FADV_SEQUENTIAL)

	start := time.Now()
	if err = submitter.Uploader.Create(ctx, container, key, file, descriptor.MimeType); err != nil {
		return &swifterrors.TransportError{Op: "put", Container: container, Key: key, Err: err}
	}
	elapsed := time.Since(start)

	if submitter.State != nil {
		submitter.State.Forget(id)
	}
	log.Info(fmt.Sprintf("uploaded chunk %s to swift://%s/%s (%s, %s, %s)",
		id.Hex(), container, key, humanize.Bytes(uint64(artifact.Size())), descriptor.MimeType, elapsed.Round(time.Millisecond)))
	if submitter.OnUploaded != nil {
		submitter.OnUploaded(container, key, artifact.Size(), elapsed)
	}
	return nil
}
