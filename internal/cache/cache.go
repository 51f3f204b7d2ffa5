package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

type (
	// Cache 字符串键值缓存，可选持久化到 JSON Lines 文件
	Cache struct {
		cacheMap       map[string]cacheValue
		cacheMapMutex  sync.Mutex
		persistentFile *persistentFile
		group          singleflight.Group
	}

	persistentFile struct {
		cacheFilePath string
		handleError   func(error)
	}

	cacheValue struct {
		Value     string    `json:"value"`
		CreatedAt time.Time `json:"created_at"`
	}

	cacheEntry struct {
		Key       string    `json:"key"`
		Value     string    `json:"value"`
		CreatedAt time.Time `json:"created_at"`
	}
)

func NewCache() *Cache {
	return &Cache{
		cacheMap: make(map[string]cacheValue),
	}
}

// NewPersistentCache 从 persistentFilePath 加载缓存，此后每次修改都会写回该文件，
// 读写文件时持有 persistentFilePath + ".lock" 文件锁
func NewPersistentCache(persistentFilePath string, handleError func(error)) (*Cache, error) {
	err := os.MkdirAll(filepath.Dir(persistentFilePath), 0700)
	if err != nil {
		return nil, err
	}
	unlockFunc, err := lockCachePersistentFile(persistentFilePath, false, handleError)
	if err != nil {
		return nil, err
	}
	defer unlockFunc()

	file, closeFunc, err := openCachePersistentFile(persistentFilePath, handleError)
	if err != nil {
		return nil, err
	}
	defer closeFunc()

	cacheMap, err := loadCacheMapFrom(file)
	if err != nil {
		return nil, err
	}

	return &Cache{
		persistentFile: &persistentFile{
			cacheFilePath: persistentFilePath,
			handleError:   handleError,
		},
		cacheMap: cacheMap,
	}, nil
}

type GetResult uint8

const (
	GetResultFromCache    GetResult = 0
	GetResultFromFallback GetResult = 1
	NoResultGot           GetResult = 2
)

// Get 返回 key 对应的值，不存在时调用 fallback 生成并保存。
// 同一个 key 的并发调用只会执行一次 fallback，且都得到同一个值
func (cache *Cache) Get(key string, fallback func() (string, error)) (string, GetResult) {
	cache.cacheMapMutex.Lock()
	value, ok := cache.cacheMap[key]
	cache.cacheMapMutex.Unlock()
	if ok {
		return value.Value, GetResultFromCache
	}

	newValue, err, _ := cache.group.Do(key, func() (interface{}, error) {
		cache.cacheMapMutex.Lock()
		defer cache.cacheMapMutex.Unlock()

		if value, ok := cache.cacheMap[key]; ok {
			return value.Value, nil
		}
		v, err := fallback()
		if err != nil {
			return nil, err
		}
		cache.cacheMap[key] = cacheValue{Value: v, CreatedAt: time.Now()}
		cache.doPersistent()
		return v, nil
	})
	if err != nil {
		return "", NoResultGot
	}
	return newValue.(string), GetResultFromFallback
}

// Peek 只读取，不生成
func (cache *Cache) Peek(key string) (string, bool) {
	cache.cacheMapMutex.Lock()
	defer cache.cacheMapMutex.Unlock()

	value, ok := cache.cacheMap[key]
	return value.Value, ok
}

func (cache *Cache) Set(key string, value string) {
	cache.cacheMapMutex.Lock()
	defer cache.cacheMapMutex.Unlock()

	cache.cacheMap[key] = cacheValue{Value: value, CreatedAt: time.Now()}
	cache.doPersistent()
}

func (cache *Cache) Delete(key string) {
	cache.cacheMapMutex.Lock()
	defer cache.cacheMapMutex.Unlock()

	if _, ok := cache.cacheMap[key]; !ok {
		return
	}
	delete(cache.cacheMap, key)
	cache.doPersistent()
}

func (cache *Cache) Len() int {
	cache.cacheMapMutex.Lock()
	defer cache.cacheMapMutex.Unlock()

	return len(cache.cacheMap)
}

// 调用方需持有 cacheMapMutex
func (cache *Cache) doPersistent() {
	if cache.persistentFile == nil {
		return
	}
	var (
		cacheFilePath = cache.persistentFile.cacheFilePath
		handleError   = cache.persistentFile.handleError
	)

	unlockFunc, err := lockCachePersistentFile(cacheFilePath, true, handleError)
	if err != nil {
		return
	}
	defer unlockFunc()

	file, closeFunc, err := openCachePersistentFile(cacheFilePath, handleError)
	if err != nil {
		return
	}
	defer closeFunc()

	if err = file.Truncate(0); err != nil {
		if handleError != nil {
			handleError(err)
		}
		return
	}
	if err = saveCacheMapTo(file, cache.cacheMap); err != nil && handleError != nil {
		handleError(err)
	}
}

func loadCacheMapFrom(r io.Reader) (map[string]cacheValue, error) {
	decoder := json.NewDecoder(r)
	cacheMap := make(map[string]cacheValue)
	for decoder.More() {
		var entry cacheEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, err
		}
		cacheMap[entry.Key] = cacheValue{Value: entry.Value, CreatedAt: entry.CreatedAt}
	}
	return cacheMap, nil
}

func saveCacheMapTo(w io.Writer, m map[string]cacheValue) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	encoder := json.NewEncoder(w)
	for _, k := range keys {
		v := m[k]
		if err := encoder.Encode(cacheEntry{
			Key:       k,
			Value:     v.Value,
			CreatedAt: v.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func lockCachePersistentFile(cacheFilePath string, ex bool, handleError func(error)) (context.CancelFunc, error) {
	var (
		lockFilePath = cacheFilePath + ".lock"
		lockFile     = flock.New(lockFilePath)
		err          error
	)
	if ex {
		err = lockFile.Lock()
	} else {
		err = lockFile.RLock()
	}
	if err != nil {
		if handleError != nil {
			handleError(err)
		}
		return nil, err
	}
	return func() {
		if err := lockFile.Unlock(); err != nil && handleError != nil {
			handleError(err)
		}
	}, nil
}

func openCachePersistentFile(cacheFile string, handleError func(error)) (*os.File, context.CancelFunc, error) {
	file, err := os.OpenFile(cacheFile, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		if handleError != nil {
			handleError(err)
		}
		return nil, nil, err
	}
	return file, func() {
		if err := file.Close(); err != nil && handleError != nil {
			handleError(err)
		}
	}, nil
}
