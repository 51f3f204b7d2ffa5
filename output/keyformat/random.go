package keyformat

import (
	"fmt"

	"github.com/pli01/swiftsink/output/chunk"
	swifterrors "github.com/pli01/swiftsink/output/errors"
)

const (
	MinHexRandomLength     = 1
	MaxHexRandomLength     = 16
	DefaultHexRandomLength = 4
)

func ValidateHexRandomLength(length int) error {
	if length < MinHexRandomLength || length > MaxHexRandomLength {
		return swifterrors.NewConfigurationError("hex_random_length",
			fmt.Sprintf("hex_random_length parameter must be between %d and %d, got %d", MinHexRandomLength, MaxHexRandomLength, length))
	}
	return nil
}

// HexRandom 由 chunk 标识推导 %{hex_random}：十六进制表示反转后取前 length 位。
// 标识的开头是时间戳，末尾是随机数，反转后前几位随机性更好。
// 相同的标识总是得到相同的结果，重试时因此会选中同一个对象名
func HexRandom(id chunk.UniqueID, length int) string {
	h := []byte(id.Hex())
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	if length > len(h) {
		length = len(h)
	}
	if length < 0 {
		length = 0
	}
	return string(h[:length])
}
