package chunkstate

import (
	"github.com/pli01/swiftsink/internal/cache"
	"github.com/pli01/swiftsink/internal/log"
	"github.com/pli01/swiftsink/output/chunk"
	"github.com/pli01/swiftsink/output/keyformat"
)

// Store 保存每个 chunk 的 hex_random 令牌。
// 令牌在第一次投递时生成，同一个 chunk 的所有重试都使用它，只有上传成功后才会删除
type Store struct {
	cache  *cache.Cache
	length int
}

// NewStore 创建仅在内存中的 Store
func NewStore(hexRandomLength int) (*Store, error) {
	if err := keyformat.ValidateHexRandomLength(hexRandomLength); err != nil {
		return nil, err
	}
	return &Store{cache: cache.NewCache(), length: hexRandomLength}, nil
}

// NewPersistentStore 创建持久化到 path 的 Store，进程重启后令牌不变
func NewPersistentStore(path string, hexRandomLength int) (*Store, error) {
	if err := keyformat.ValidateHexRandomLength(hexRandomLength); err != nil {
		return nil, err
	}
	c, err := cache.NewPersistentCache(path, func(err error) {
		log.Warn("chunk state file " + path + ": " + err.Error())
	})
	if err != nil {
		return nil, err
	}
	return &Store{cache: c, length: hexRandomLength}, nil
}

// Token 返回 chunk 的令牌，不存在时生成，并发调用只会生成一次
func (store *Store) Token(id chunk.UniqueID) string {
	token, result := store.cache.Get(id.Hex(), func() (string, error) {
		return keyformat.HexRandom(id, store.length), nil
	})
	if result == cache.NoResultGot {
		return keyformat.HexRandom(id, store.length)
	}
	return token
}

// Lookup 只查询，不生成
func (store *Store) Lookup(id chunk.UniqueID) (string, bool) {
	return store.cache.Peek(id.Hex())
}

// Forget 上传成功后删除 chunk 的状态
func (store *Store) Forget(id chunk.UniqueID) {
	store.cache.Delete(id.Hex())
}

func (store *Store) Len() int {
	return store.cache.Len()
}
