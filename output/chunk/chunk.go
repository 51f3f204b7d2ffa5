package chunk

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type (
	// Chunk 调度器交给投递流水线的一批已缓冲记录，流水线只在一次投递期间借用它
	Chunk interface {
		// UniqueID 在 chunk 生命周期内保持不变，重试时也不变
		UniqueID() UniqueID
		// TimeKey 时间分桶的起点，没有按时间分桶时返回 false
		TimeKey() (time.Time, bool)
		// Variables 用于替换对象名模板中 ${name} 占位符的 chunk 键值，例如 tag
		Variables() map[string]string
		// WriteTo 按顺序写出 chunk 的全部字节，可以被调用多次
		WriteTo(io.Writer) (int64, error)
	}

	// UniqueID 16 字节的 chunk 标识：秒级时间戳、微秒和随机数
	UniqueID [16]byte

	// BytesChunk 内存中的 chunk
	BytesChunk struct {
		ID      UniqueID
		Time    time.Time
		HasTime bool
		Vars    map[string]string
		Data    []byte
	}

	// FileChunk 文件形式的 chunk，每次 WriteTo 都重新打开文件
	FileChunk struct {
		ID      UniqueID
		Path    string
		Time    time.Time
		HasTime bool
		Vars    map[string]string
	}
)

var (
	idLock sync.Mutex
	lastID UniqueID
)

// NewUniqueID 生成新的 chunk 标识，前 8 字节为秒级和微秒级时间，后 8 字节为随机数
func NewUniqueID() UniqueID {
	return newUniqueIDAt(time.Now())
}

func newUniqueIDAt(now time.Time) UniqueID {
	var id UniqueID
	random := uuid.New()

	binary.BigEndian.PutUint32(id[0:4], uint32(now.Unix()))
	binary.BigEndian.PutUint32(id[4:8], uint32(now.Nanosecond()/1000))
	copy(id[8:], random[8:])

	idLock.Lock()
	defer idLock.Unlock()
	if id == lastID {
		copy(id[8:], random[:8])
	}
	lastID = id
	return id
}

// ParseUniqueID 从 32 位十六进制字符串解析 chunk 标识
func ParseUniqueID(s string) (UniqueID, error) {
	var id UniqueID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, hex.ErrLength
	}
	copy(id[:], b)
	return id, nil
}

func (id UniqueID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id UniqueID) String() string {
	return id.Hex()
}

func (c *BytesChunk) UniqueID() UniqueID {
	return c.ID
}

func (c *BytesChunk) TimeKey() (time.Time, bool) {
	return c.Time, c.HasTime
}

func (c *BytesChunk) Variables() map[string]string {
	return c.Vars
}

func (c *BytesChunk) WriteTo(w io.Writer) (int64, error) {
	return bytes.NewReader(c.Data).WriteTo(w)
}

func (c *FileChunk) UniqueID() UniqueID {
	return c.ID
}

func (c *FileChunk) TimeKey() (time.Time, bool) {
	return c.Time, c.HasTime
}

func (c *FileChunk) Variables() map[string]string {
	return c.Vars
}

func (c *FileChunk) WriteTo(w io.Writer) (int64, error) {
	file, err := os.Open(c.Path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return io.Copy(w, file)
}
