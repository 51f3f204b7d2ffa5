package resolver

import (
	"context"
	"strconv"
	"sync"

	"github.com/pli01/swiftsink/internal/log"
	swifterrors "github.com/pli01/swiftsink/output/errors"
)

type (
	// Prober 查询对象是否存在
	Prober interface {
		Exists(ctx context.Context, container, key string) (bool, error)
	}

	// Resolver 通过逐个探测 %{index} 找到容器中尚不存在的对象名
	Resolver struct {
		Prober    Prober
		Overwrite bool
		// MaxProbes 限制尝试的 index 个数，为 0 表示不限制
		MaxProbes int
		// OnProbe 每次探测后回调，可以为空
		OnProbe func(key string, exists bool)
		// Reservations 本进程内已被选中但尚未上传结束的对象名，被占用的对象名视为已存在。可以为空
		Reservations *Reservations
	}

	// ExpandFunc 按 index 展开对象名
	ExpandFunc func(index int) (string, error)

	// Reservations 进程内的对象名占用表，可以被多个 goroutine 并发使用
	Reservations struct {
		mu   sync.Mutex
		keys map[string]struct{}
	}
)

func NewReservations() *Reservations {
	return &Reservations{keys: make(map[string]struct{})}
}

// Len 当前被占用的对象名数量
func (reservations *Reservations) Len() int {
	if reservations == nil {
		return 0
	}
	reservations.mu.Lock()
	defer reservations.mu.Unlock()
	return len(reservations.keys)
}

// hold 占用对象名，已被占用时返回 false。返回的 release 可以重复调用
func (reservations *Reservations) hold(container, key string) (release func(), ok bool) {
	if reservations == nil {
		return func() {}, true
	}
	id := container + "/" + key
	reservations.mu.Lock()
	defer reservations.mu.Unlock()
	if _, taken := reservations.keys[id]; taken {
		return func() {}, false
	}
	reservations.keys[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			reservations.mu.Lock()
			delete(reservations.keys, id)
			reservations.mu.Unlock()
		})
	}, true
}

// Resolve 返回当前可用的对象名，不保留占用
func (resolver *Resolver) Resolve(ctx context.Context, container string, expand ExpandFunc) (string, error) {
	key, release, err := resolver.Acquire(ctx, container, expand)
	if err != nil {
		return "", err
	}
	release()
	return key, nil
}

// Acquire 从 index 0 开始展开对象名，直到找到不存在且未被占用的对象名，并占用它直到 release 被调用。
// 若 index 增加后对象名不变，说明模板不含 %{index}：开启覆盖时返回该对象名，否则返回 DuplicatePathError。
// 占用只在本进程内有效，多个进程写同一个容器时只能尽力保证唯一
func (resolver *Resolver) Acquire(ctx context.Context, container string, expand ExpandFunc) (key string, release func(), err error) {
	var previous string
	for i := 0; ; i++ {
		if err = ctx.Err(); err != nil {
			return "", nil, &swifterrors.TransportError{Op: "resolve", Container: container, Key: previous, Err: err}
		}
		if key, err = expand(i); err != nil {
			return "", nil, &swifterrors.ConfigurationError{Field: "swift_object_key_format", Reason: "cannot expand key", Err: err}
		}
		if i > 0 && key == previous {
			if resolver.Overwrite {
				log.Warn(key + " already exists, but will overwrite")
				release, _ = resolver.Reservations.hold(container, key)
				return key, release, nil
			}
			return "", nil, &swifterrors.DuplicatePathError{Key: key}
		}
		if resolver.MaxProbes > 0 && i >= resolver.MaxProbes {
			return "", nil, &swifterrors.TransportError{
				Op:        "resolve",
				Container: container,
				Key:       key,
				Err:       wrapTooManyProbes(resolver.MaxProbes),
			}
		}
		previous = key

		var held bool
		if release, held = resolver.Reservations.hold(container, key); !held {
			log.Debug(key + " is being uploaded, trying index " + strconv.Itoa(i+1))
			continue
		}
		exists, probeErr := resolver.Prober.Exists(ctx, container, key)
		if probeErr != nil {
			release()
			return "", nil, &swifterrors.TransportError{Op: "exists", Container: container, Key: key, Err: probeErr}
		}
		if resolver.OnProbe != nil {
			resolver.OnProbe(key, exists)
		}
		if !exists {
			return key, release, nil
		}
		release()
		log.Debug(key + " already exists, trying index " + strconv.Itoa(i+1))
	}
}

type tooManyProbesError struct {
	limit int
}

func (err tooManyProbesError) Error() string {
	return swifterrors.ErrTooManyProbes.Error() + " (max " + strconv.Itoa(err.limit) + ")"
}

func (err tooManyProbesError) Unwrap() error {
	return swifterrors.ErrTooManyProbes
}

func wrapTooManyProbes(limit int) error {
	return tooManyProbesError{limit: limit}
}
