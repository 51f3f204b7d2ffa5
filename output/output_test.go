//go:build unit
// +build unit

package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pli01/swiftsink/internal/configfile"
	"github.com/pli01/swiftsink/output/chunk"
	swifterrors "github.com/pli01/swiftsink/output/errors"
	"github.com/pli01/swiftsink/output/metrics"
)

type memoryGateway struct {
	mu          sync.Mutex
	containers  map[string]bool
	objects     map[string][]byte
	contentType map[string]string
	failCreates int
	creates     int
	// ContainerExists 在前 failChecks 次调用时返回错误
	failChecks int
	checks     int
	// Exists 和 Create 的模拟延迟
	latency time.Duration
}

func newMemoryGateway(containers ...string) *memoryGateway {
	g := &memoryGateway{
		containers:  map[string]bool{},
		objects:     map[string][]byte{},
		contentType: map[string]string{},
	}
	for _, c := range containers {
		g.containers[c] = true
	}
	return g
}

func (g *memoryGateway) Exists(ctx context.Context, container, key string) (bool, error) {
	time.Sleep(g.latency)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.objects[container+"/"+key]
	return ok, nil
}

func (g *memoryGateway) Create(ctx context.Context, container, key string, body io.Reader, contentType string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	time.Sleep(g.latency)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.failCreates > 0 {
		g.failCreates--
		return errors.New("503 service unavailable")
	}
	g.objects[container+"/"+key] = b
	g.contentType[container+"/"+key] = contentType
	return nil
}

func (g *memoryGateway) ContainerExists(ctx context.Context, container string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.failChecks > 0 {
		g.failChecks--
		return false, errors.New("502 bad gateway")
	}
	return g.containers[container], nil
}

func (g *memoryGateway) CreateContainer(ctx context.Context, container string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.containers[container] = true
	return nil
}

func (g *memoryGateway) keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.objects))
	for k := range g.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (g *memoryGateway) object(key string) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.objects[key]
}

func testConfig(t *testing.T) *configfile.Config {
	config := configfile.Default()
	config.StorageURL = "https://swift.example.com/v1/AUTH_test"
	config.AuthToken = "secret"
	config.SwiftContainer = "logs"
	config.Path = "app/"
	config.TimekeyZone = "UTC"
	config.TempDir = t.TempDir()
	return config
}

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newChunk(data string, vars map[string]string) *chunk.BytesChunk {
	return &chunk.BytesChunk{ID: chunk.NewUniqueID(), Time: day, HasTime: true, Vars: vars, Data: []byte(data)}
}

func gunzip(t *testing.T, b []byte) string {
	r, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	decoded, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(decoded)
}

func TestDeliverIndexesKeys(t *testing.T) {
	config := testConfig(t)
	gateway := newMemoryGateway("logs")
	m := metrics.New()
	o, err := New(config, Options{Gateway: gateway, Metrics: m})
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))

	first, second := newChunk("first\n", nil), newChunk("second\n", nil)
	require.NoError(t, o.Deliver(context.Background(), first))
	require.NoError(t, o.Deliver(context.Background(), second))

	assert.Equal(t, []string{"logs/app/20240101_0.gz", "logs/app/20240101_1.gz"}, gateway.keys())
	assert.Equal(t, "first\n", gunzip(t, gateway.object("logs/app/20240101_0.gz")))
	assert.Equal(t, "second\n", gunzip(t, gateway.object("logs/app/20240101_1.gz")))
	assert.Equal(t, "application/x-gzip", gateway.contentType["logs/app/20240101_0.gz"])
	assert.Equal(t, 0, o.State().Len())

	entries, err := os.ReadDir(config.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyProbes.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.KeyProbes.WithLabelValues("false")))
}

func TestDeliverWithoutTimeKey(t *testing.T) {
	config := testConfig(t)
	config.StoreAs = "json"
	gateway := newMemoryGateway("logs")
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	c := &chunk.BytesChunk{ID: chunk.NewUniqueID(), Data: []byte(`{"a":1}`)}
	require.NoError(t, o.Deliver(context.Background(), c))
	assert.Equal(t, []string{"logs/app/_0.json"}, gateway.keys())
}

func TestDeliverDuplicatePath(t *testing.T) {
	config := testConfig(t)
	config.SwiftObjectKeyFormat = "%{path}%{time_slice}.%{file_extension}"
	gateway := newMemoryGateway("logs")
	m := metrics.New()
	o, err := New(config, Options{Gateway: gateway, Metrics: m})
	require.NoError(t, err)

	require.NoError(t, o.Deliver(context.Background(), newChunk("a", nil)))
	err = o.Deliver(context.Background(), newChunk("b", nil))
	require.Error(t, err)
	assert.True(t, swifterrors.IsDuplicatePath(err))
	assert.False(t, swifterrors.IsRetryable(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("duplicate_path")))
	assert.Equal(t, 1, gateway.creates)
}

func TestDeliverOverwrite(t *testing.T) {
	config := testConfig(t)
	config.SwiftObjectKeyFormat = "%{path}%{time_slice}.%{file_extension}"
	config.Overwrite = true
	config.StoreAs = "text"
	gateway := newMemoryGateway("logs")
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	require.NoError(t, o.Deliver(context.Background(), newChunk("a", nil)))
	require.NoError(t, o.Deliver(context.Background(), newChunk("b", nil)))
	assert.Equal(t, []string{"logs/app/20240101.txt"}, gateway.keys())
	assert.Equal(t, []byte("b"), gateway.object("logs/app/20240101.txt"))
}

func TestDeliverRetryKeepsHexRandom(t *testing.T) {
	config := testConfig(t)
	config.SwiftObjectKeyFormat = "%{path}%{hex_random}/%{time_slice}_%{index}.%{file_extension}"
	config.HexRandomLength = 6
	gateway := newMemoryGateway("logs")
	gateway.failCreates = 1
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	c := newChunk("payload", nil)
	err = o.Deliver(context.Background(), c)
	require.Error(t, err)
	assert.True(t, swifterrors.IsTransport(err))
	assert.True(t, swifterrors.IsRetryable(err))

	token, ok := o.State().Lookup(c.ID)
	require.True(t, ok)
	assert.Len(t, token, 6)

	require.NoError(t, o.Deliver(context.Background(), c))
	assert.Equal(t, []string{fmt.Sprintf("logs/app/%s/20240101_0.gz", token)}, gateway.keys())
	_, ok = o.State().Lookup(c.ID)
	assert.False(t, ok)
}

func TestDeliverChunkVariables(t *testing.T) {
	config := testConfig(t)
	config.SwiftObjectKeyFormat = "%{path}${tag}/%Y/%m/%{time_slice}_%{index}.%{file_extension}"
	config.StoreAs = "zstd"
	gateway := newMemoryGateway("logs")
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	require.NoError(t, o.Deliver(context.Background(), newChunk("x", map[string]string{"tag": "nginx.access"})))
	assert.Equal(t, []string{"logs/app/nginx.access/2024/01/20240101_0.zst"}, gateway.keys())
	assert.Equal(t, "application/zstd", gateway.contentType["logs/app/nginx.access/2024/01/20240101_0.zst"])
}

func TestDeliverAllSequentialIndexes(t *testing.T) {
	config := testConfig(t)
	gateway := newMemoryGateway("logs")
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	chunks := make([]chunk.Chunk, 5)
	for i := range chunks {
		chunks[i] = newChunk(fmt.Sprintf("chunk %d", i), nil)
	}
	require.NoError(t, o.DeliverAll(context.Background(), chunks, 1))

	expected := make([]string, 5)
	for i := range expected {
		expected[i] = fmt.Sprintf("logs/app/20240101_%d.gz", i)
	}
	assert.Equal(t, expected, gateway.keys())
}

func TestDeliverAllConcurrent(t *testing.T) {
	config := testConfig(t)
	config.SwiftObjectKeyFormat = "%{path}${tag}/%{time_slice}_%{index}.%{file_extension}"
	gateway := newMemoryGateway("logs")
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	chunks := make([]chunk.Chunk, 16)
	for i := range chunks {
		chunks[i] = newChunk("x", map[string]string{"tag": fmt.Sprintf("t%02d", i)})
	}
	require.NoError(t, o.DeliverAll(context.Background(), chunks, 4))
	assert.Len(t, gateway.keys(), 16)
	assert.Equal(t, 0, o.State().Len())
}

func TestDeliverAllSameTimeSlice(t *testing.T) {
	config := testConfig(t)
	gateway := newMemoryGateway("logs")
	gateway.latency = 5 * time.Millisecond
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	chunks := make([]chunk.Chunk, 16)
	for i := range chunks {
		chunks[i] = newChunk(fmt.Sprintf("chunk %d", i), nil)
	}
	require.NoError(t, o.DeliverAll(context.Background(), chunks, 4))

	keys := gateway.keys()
	require.Len(t, keys, 16)
	assert.Equal(t, 16, gateway.creates)
	seen := map[string]bool{}
	for _, k := range keys {
		seen[gunzip(t, gateway.object(k))] = true
	}
	assert.Len(t, seen, 16)
	for i := 0; i < 16; i++ {
		assert.Contains(t, keys, fmt.Sprintf("logs/app/20240101_%d.gz", i))
	}
	assert.Equal(t, 0, o.resolver.Reservations.Len())
}

func TestDeliverAllReturnsFirstError(t *testing.T) {
	config := testConfig(t)
	config.SwiftObjectKeyFormat = "%{path}%{time_slice}.%{file_extension}"
	gateway := newMemoryGateway("logs")
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	chunks := []chunk.Chunk{newChunk("a", nil), newChunk("b", nil), newChunk("c", nil)}
	err = o.DeliverAll(context.Background(), chunks, 1)
	require.Error(t, err)
	assert.True(t, swifterrors.IsDuplicatePath(err))
	assert.Len(t, gateway.keys(), 1)
}

func TestStartContainer(t *testing.T) {
	config := testConfig(t)
	gateway := newMemoryGateway()
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	assert.True(t, gateway.containers["logs"])

	config = testConfig(t)
	config.AutoCreateContainer = false
	gateway = newMemoryGateway()
	o, err = New(config, Options{Gateway: gateway})
	require.NoError(t, err)
	err = o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, swifterrors.IsConfiguration(err))
	assert.ErrorIs(t, err, swifterrors.ErrContainerNotExist)
	assert.Equal(t, err, o.Start(context.Background()))
}

func TestStartRetriesTransportError(t *testing.T) {
	config := testConfig(t)
	gateway := newMemoryGateway("logs")
	gateway.failChecks = 1
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	err = o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, swifterrors.IsTransport(err))

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, 2, gateway.checks)
}

func TestDeliverRunsStart(t *testing.T) {
	config := testConfig(t)
	config.AutoCreateContainer = false
	gateway := newMemoryGateway()
	o, err := New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	err = o.Deliver(context.Background(), newChunk("a", nil))
	require.Error(t, err)
	assert.True(t, swifterrors.IsConfiguration(err))
	assert.ErrorIs(t, err, swifterrors.ErrContainerNotExist)
	assert.Equal(t, 0, gateway.creates)

	config = testConfig(t)
	config.StoreAs = "lzo"
	config.LzopCommand = "/nonexistent/lzop"
	gateway = newMemoryGateway("logs")
	o, err = New(config, Options{Gateway: gateway})
	require.NoError(t, err)

	err = o.Deliver(context.Background(), newChunk("a", nil))
	require.Error(t, err)
	assert.True(t, swifterrors.IsConfiguration(err))
	assert.False(t, swifterrors.IsMaterialization(err))
	assert.Equal(t, 0, gateway.creates)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	for name, mutate := range map[string]func(*configfile.Config){
		"index format":       func(c *configfile.Config) { c.IndexFormat = "%5d" },
		"removed uuid":       func(c *configfile.Config) { c.SwiftObjectKeyFormat = "%{path}%{uuid}.gz" },
		"hex random length":  func(c *configfile.Config) { c.HexRandomLength = 17 },
		"time slice format":  func(c *configfile.Config) { c.TimeSliceFormat = "%Q" },
		"timekey zone":       func(c *configfile.Config) { c.TimekeyZone = "Mars/Olympus" },
		"missing container":  func(c *configfile.Config) { c.SwiftContainer = "" },
		"missing temp dir":   func(c *configfile.Config) { c.TempDir = "/nonexistent/swiftsink" },
		"container with key": func(c *configfile.Config) { c.SwiftContainer = "a/b" },
	} {
		config := testConfig(t)
		mutate(config)
		_, err := New(config, Options{Gateway: newMemoryGateway()})
		require.Error(t, err, name)
		assert.True(t, swifterrors.IsConfiguration(err), name)
	}

	_, err := New(testConfig(t), Options{})
	assert.True(t, swifterrors.IsConfiguration(err))
}
