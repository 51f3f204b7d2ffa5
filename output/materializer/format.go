package materializer

import (
	"github.com/pli01/swiftsink/conf"
)

// Format 上传文件的存储格式
type Format string

const (
	FormatGzip Format = "gzip"
	FormatLzo  Format = "lzo"
	FormatJSON Format = "json"
	FormatZstd Format = "zstd"
	FormatText Format = "text"
)

// ContentDescriptor 存储格式对应的扩展名和 Content-Type，配置时确定一次
type ContentDescriptor struct {
	Format    Format
	Extension string
	MimeType  string
}

// ParseFormat 解析 store_as 参数，区分大小写，无法识别的值按纯文本处理
func ParseFormat(storeAs string) ContentDescriptor {
	switch Format(storeAs) {
	case FormatGzip:
		return ContentDescriptor{Format: FormatGzip, Extension: "gz", MimeType: conf.CONTENT_TYPE_GZIP}
	case FormatLzo:
		return ContentDescriptor{Format: FormatLzo, Extension: "lzo", MimeType: conf.CONTENT_TYPE_LZOP}
	case FormatJSON:
		return ContentDescriptor{Format: FormatJSON, Extension: "json", MimeType: conf.CONTENT_TYPE_JSON}
	case FormatZstd:
		return ContentDescriptor{Format: FormatZstd, Extension: "zst", MimeType: conf.CONTENT_TYPE_ZSTD}
	default:
		return ContentDescriptor{Format: FormatText, Extension: "txt", MimeType: conf.CONTENT_TYPE_PLAIN}
	}
}
