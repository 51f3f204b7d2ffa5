package output

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pli01/swiftsink/internal/configfile"
	"github.com/pli01/swiftsink/internal/log"
	"github.com/pli01/swiftsink/output/chunk"
	"github.com/pli01/swiftsink/output/chunkstate"
	swifterrors "github.com/pli01/swiftsink/output/errors"
	"github.com/pli01/swiftsink/output/keyformat"
	"github.com/pli01/swiftsink/output/materializer"
	"github.com/pli01/swiftsink/output/metrics"
	"github.com/pli01/swiftsink/output/resolver"
	"github.com/pli01/swiftsink/output/submitter"
	"github.com/pli01/swiftsink/swift"
)

type (
	// Options Output 的外部依赖
	Options struct {
		// Gateway 对象存储，必填
		Gateway swift.Gateway
		// Metrics 可以为空
		Metrics *metrics.Metrics
		// TemplateOptions 可以为空
		TemplateOptions *keyformat.TemplateOptions
	}

	// Output 将 chunk 投递为对象存储中的对象，可以被多个 goroutine 并发调用
	Output struct {
		container   string
		path        string
		autoCreate  bool
		gateway     swift.Gateway
		template    *keyformat.Template
		indexFormat keyformat.IndexFormat
		slicer      *keyformat.TimeSlicer
		descriptor  materializer.ContentDescriptor
		state       *chunkstate.Store
		metrics     *metrics.Metrics

		materializer *materializer.Materializer
		resolver     *resolver.Resolver
		submitter    *submitter.Submitter

		startMu  sync.Mutex
		started  bool
		startErr error
	}
)

// New 校验配置并创建 Output，所有配置错误都在这里返回
func New(config *configfile.Config, options Options) (*Output, error) {
	if config == nil {
		return nil, swifterrors.NewConfigurationError("", "missing configuration")
	}
	if options.Gateway == nil {
		return nil, swifterrors.NewConfigurationError("", "missing storage gateway")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	template, err := keyformat.ParseTemplate(config.SwiftObjectKeyFormat, options.TemplateOptions)
	if err != nil {
		return nil, err
	}
	indexFormat, err := keyformat.ParseIndexFormat(config.IndexFormat)
	if err != nil {
		return nil, err
	}
	slicer, err := keyformat.NewTimeSlicer(time.Duration(config.Timekey), config.TimeSliceFormat, config.TimekeyZone)
	if err != nil {
		return nil, err
	}

	var state *chunkstate.Store
	if config.StateFile != "" {
		state, err = chunkstate.NewPersistentStore(config.StateFile, config.HexRandomLength)
	} else {
		state, err = chunkstate.NewStore(config.HexRandomLength)
	}
	if err != nil {
		if swifterrors.IsConfiguration(err) {
			return nil, err
		}
		return nil, &swifterrors.ConfigurationError{Field: "state_file", Reason: "cannot open chunk state file", Err: err}
	}

	if config.TempDir != "" {
		if info, statErr := os.Stat(config.TempDir); statErr != nil || !info.IsDir() {
			return nil, &swifterrors.ConfigurationError{Field: "temp_dir", Reason: config.TempDir + " is not a directory", Err: statErr}
		}
	}

	if !template.HasIndex() && !template.UUIDFlushEnabled() && !config.Overwrite {
		log.Warn("swift_object_key_format has no %{index}: a second chunk for the same time slice will fail with a duplicated path")
	}

	descriptor := materializer.ParseFormat(config.StoreAs)
	o := &Output{
		container:   config.SwiftContainer,
		path:        config.Path,
		autoCreate:  config.AutoCreateContainer,
		gateway:     options.Gateway,
		template:    template,
		indexFormat: indexFormat,
		slicer:      slicer,
		descriptor:  descriptor,
		state:       state,
		metrics:     options.Metrics,
		materializer: &materializer.Materializer{
			Descriptor:  descriptor,
			TempDir:     config.TempDir,
			LzopCommand: config.LzopCommand,
		},
	}
	o.resolver = &resolver.Resolver{
		Prober:    options.Gateway,
		Overwrite: config.Overwrite,
		MaxProbes: config.MaxProbes,
		OnProbe: func(key string, exists bool) {
			o.metrics.ObserveProbe(exists)
		},
		Reservations: resolver.NewReservations(),
	}
	o.submitter = &submitter.Submitter{
		Uploader: options.Gateway,
		State:    state,
		OnUploaded: func(container, key string, size int64, elapsed time.Duration) {
			o.metrics.ObserveUpload(size, elapsed)
		},
	}
	return o, nil
}

// Start 检查存储格式可用，并确认容器存在，容器不存在时按配置自动创建。
// 成功或配置错误的结果会被记住，传输错误下次调用时重试。Deliver 会先调用 Start
func (o *Output) Start(ctx context.Context) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if o.started {
		return o.startErr
	}
	err := o.start(ctx)
	if err == nil || swifterrors.IsConfiguration(err) {
		o.started = true
		o.startErr = err
	}
	return err
}

func (o *Output) start(ctx context.Context) error {
	if err := o.materializer.CheckFormat(ctx); err != nil {
		return err
	}
	exists, err := o.gateway.ContainerExists(ctx, o.container)
	if err != nil {
		return &swifterrors.TransportError{Op: "check_container", Container: o.container, Err: err}
	}
	if exists {
		log.Info("check_container " + o.container)
		return nil
	}
	if !o.autoCreate {
		return &swifterrors.ConfigurationError{
			Field:  "swift_container",
			Reason: "the specified container does not exist: container = " + o.container,
			Err:    swifterrors.ErrContainerNotExist,
		}
	}
	log.Info("creating container " + o.container)
	if err = o.gateway.CreateContainer(ctx, o.container); err != nil {
		return &swifterrors.TransportError{Op: "create_container", Container: o.container, Err: err}
	}
	return nil
}

// Descriptor 存储格式
func (o *Output) Descriptor() materializer.ContentDescriptor {
	return o.descriptor
}

// State chunk 状态，投递成功后对应的条目会被删除
func (o *Output) State() *chunkstate.Store {
	return o.state
}

// TimeSlicer 时间分桶，调用方可以用它对齐 chunk 的时间
func (o *Output) TimeSlicer() *keyformat.TimeSlicer {
	return o.slicer
}

// ResolveKey 为 chunk 找到容器中尚未使用的对象名，不占用该对象名。
// 同一个 chunk 在状态被删除前总是使用同一个 %{hex_random}
func (o *Output) ResolveKey(ctx context.Context, c chunk.Chunk) (string, error) {
	return o.resolver.Resolve(ctx, o.container, o.expandFunc(c))
}

func (o *Output) expandFunc(c chunk.Chunk) resolver.ExpandFunc {
	token := o.state.Token(c.UniqueID())
	timeKey, hasTimeKey := c.TimeKey()
	values := keyformat.Values{
		Path:          o.path,
		FileExtension: o.descriptor.Extension,
		TimeSlice:     o.slicer.Slice(timeKey, hasTimeKey),
		HexRandom:     token,
		Variables:     c.Variables(),
		HasTimeKey:    hasTimeKey,
	}
	if hasTimeKey {
		values.TimeKey = timeKey.In(o.slicer.Location())
	}
	return func(index int) (string, error) {
		v := values
		v.Index = o.indexFormat.Format(index)
		return o.template.Expand(&v)
	}
}

// Deliver 投递一个 chunk：确定并占用对象名、生成临时文件、上传，然后删除临时文件和 chunk 状态。
// 对象名的占用在上传结束后释放。返回错误时调度器可以用同一个 chunk 重试
func (o *Output) Deliver(ctx context.Context, c chunk.Chunk) (err error) {
	done := o.metrics.Track()
	defer func() {
		done()
		o.metrics.ObserveDelivery(err)
	}()

	if err = o.Start(ctx); err != nil {
		return err
	}
	key, release, err := o.resolver.Acquire(ctx, o.container, o.expandFunc(c))
	if err != nil {
		return err
	}
	defer release()
	artifact, err := o.materializer.Materialize(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := artifact.Close(); closeErr != nil {
			log.Warn("cannot remove " + artifact.Path() + ": " + closeErr.Error())
		}
	}()
	return o.submitter.Submit(ctx, c.UniqueID(), o.container, key, artifact, o.descriptor)
}

// DeliverAll 最多 concurrency 个 chunk 并发投递，等待全部结束后返回第一个错误
func (o *Output) DeliverAll(ctx context.Context, chunks []chunk.Chunk, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			if err := o.Deliver(ctx, c); err != nil {
				log.Error(fmt.Sprintf("failed to deliver chunk %s: %s", c.UniqueID().Hex(), err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
