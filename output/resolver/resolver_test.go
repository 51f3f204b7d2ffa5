//go:build unit
// +build unit

package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pli01/swiftsink/internal/log"
	swifterrors "github.com/pli01/swiftsink/output/errors"
	"github.com/pli01/swiftsink/output/keyformat"
)

type fakeProber struct {
	mu      sync.Mutex
	objects map[string]bool
	probes  []string
	err     error
}

func (p *fakeProber) Exists(ctx context.Context, container, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes = append(p.probes, container+"/"+key)
	if p.err != nil {
		return false, p.err
	}
	return p.objects[key], nil
}

func defaultExpand(t *testing.T, format string) ExpandFunc {
	template, err := keyformat.ParseTemplate(format, nil)
	require.NoError(t, err)
	return func(index int) (string, error) {
		return template.Expand(&keyformat.Values{
			Path:          "logs/",
			FileExtension: "gz",
			TimeSlice:     "20240101",
			Index:         keyformat.DefaultIndexFormat.Format(index),
		})
	}
}

func TestResolveFirstFreeIndex(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{}}
	resolver := &Resolver{Prober: prober}
	expand := defaultExpand(t, "%{path}%{time_slice}_%{index}.%{file_extension}")

	key, err := resolver.Resolve(context.Background(), "c", expand)
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101_0.gz", key)

	prober.objects[key] = true
	key, err = resolver.Resolve(context.Background(), "c", expand)
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101_1.gz", key)
	assert.Equal(t, []string{"c/logs/20240101_0.gz", "c/logs/20240101_0.gz", "c/logs/20240101_1.gz"}, prober.probes)
}

func TestResolveDuplicatePath(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{"logs/20240101.gz": true}}
	resolver := &Resolver{Prober: prober}

	_, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{time_slice}.%{file_extension}"))
	require.Error(t, err)
	assert.True(t, swifterrors.IsDuplicatePath(err))
	assert.Contains(t, err.Error(), "path = logs/20240101.gz")
	assert.Len(t, prober.probes, 1)
}

func TestResolveOverwrite(t *testing.T) {
	var buf strings.Builder
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	prober := &fakeProber{objects: map[string]bool{"logs/20240101.gz": true}}
	resolver := &Resolver{Prober: prober, Overwrite: true}

	key, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{time_slice}.%{file_extension}"))
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101.gz", key)
	assert.Contains(t, buf.String(), "already exists, but will overwrite")
}

func TestResolveFreeKeyWithoutIndex(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{}}
	resolver := &Resolver{Prober: prober}

	key, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{time_slice}.%{file_extension}"))
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101.gz", key)
}

func TestResolveTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	resolver := &Resolver{Prober: &fakeProber{err: cause}}

	_, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{index}"))
	require.Error(t, err)
	assert.True(t, swifterrors.IsTransport(err))
	assert.True(t, swifterrors.IsRetryable(err))
	assert.ErrorIs(t, err, cause)
}

func TestResolveMaxProbes(t *testing.T) {
	objects := map[string]bool{}
	for i := 0; i < 10; i++ {
		objects[fmt.Sprintf("logs/%d", i)] = true
	}
	prober := &fakeProber{objects: objects}
	resolver := &Resolver{Prober: prober, MaxProbes: 3}

	_, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{index}"))
	require.Error(t, err)
	assert.True(t, swifterrors.IsTransport(err))
	assert.ErrorIs(t, err, swifterrors.ErrTooManyProbes)
	assert.Len(t, prober.probes, 3)

	resolver.MaxProbes = 0
	key, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{index}"))
	require.NoError(t, err)
	assert.Equal(t, "logs/10", key)
}

func TestResolveOnProbe(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{"logs/0": true}}
	var seen []string
	resolver := &Resolver{Prober: prober, OnProbe: func(key string, exists bool) {
		seen = append(seen, fmt.Sprintf("%s=%v", key, exists))
	}}

	_, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{index}"))
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/0=true", "logs/1=false"}, seen)
}

func TestResolveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := &Resolver{Prober: &fakeProber{}}

	_, err := resolver.Resolve(ctx, "c", defaultExpand(t, "%{path}%{index}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireSkipsReservedKeys(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{}}
	resolver := &Resolver{Prober: prober, Reservations: NewReservations()}
	expand := defaultExpand(t, "%{path}%{time_slice}_%{index}.%{file_extension}")

	first, releaseFirst, err := resolver.Acquire(context.Background(), "c", expand)
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101_0.gz", first)

	second, releaseSecond, err := resolver.Acquire(context.Background(), "c", expand)
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101_1.gz", second)
	assert.Equal(t, 2, resolver.Reservations.Len())
	assert.Equal(t, []string{"c/logs/20240101_0.gz", "c/logs/20240101_1.gz"}, prober.probes)

	releaseFirst()
	releaseFirst()
	assert.Equal(t, 1, resolver.Reservations.Len())

	third, releaseThird, err := resolver.Acquire(context.Background(), "c", expand)
	require.NoError(t, err)
	assert.Equal(t, "logs/20240101_0.gz", third)
	releaseSecond()
	releaseThird()
	assert.Equal(t, 0, resolver.Reservations.Len())
}

func TestAcquireReleasesOnFailure(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{"logs/0": true}}
	resolver := &Resolver{Prober: prober, Reservations: NewReservations()}

	key, err := resolver.Resolve(context.Background(), "c", defaultExpand(t, "%{path}%{index}"))
	require.NoError(t, err)
	assert.Equal(t, "logs/1", key)
	assert.Equal(t, 0, resolver.Reservations.Len())

	prober.err = errors.New("connection reset")
	_, _, err = resolver.Acquire(context.Background(), "c", defaultExpand(t, "%{path}%{index}"))
	require.Error(t, err)
	assert.Equal(t, 0, resolver.Reservations.Len())
}

func TestAcquireReservedKeyWithoutIndex(t *testing.T) {
	resolver := &Resolver{Prober: &fakeProber{objects: map[string]bool{}}, Reservations: NewReservations()}
	expand := defaultExpand(t, "%{path}%{time_slice}.%{file_extension}")

	_, release, err := resolver.Acquire(context.Background(), "c", expand)
	require.NoError(t, err)
	defer release()

	_, _, err = resolver.Acquire(context.Background(), "c", expand)
	require.Error(t, err)
	assert.True(t, swifterrors.IsDuplicatePath(err))
}

func TestAcquireConcurrentDistinctKeys(t *testing.T) {
	prober := &fakeProber{objects: map[string]bool{}}
	resolver := &Resolver{Prober: prober, Reservations: NewReservations()}
	expand := defaultExpand(t, "%{path}%{index}")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys = map[string]bool{}
	)
	releases := make(chan func(), 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, release, err := resolver.Acquire(context.Background(), "c", expand)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			keys[key] = true
			mu.Unlock()
			releases <- release
		}()
	}
	wg.Wait()
	close(releases)
	assert.Len(t, keys, 16)
	for release := range releases {
		release()
	}
	assert.Equal(t, 0, resolver.Reservations.Len())
}
