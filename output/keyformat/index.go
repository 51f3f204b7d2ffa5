package keyformat

import (
	"fmt"
	"regexp"

	swifterrors "github.com/pli01/swiftsink/output/errors"
)

// IndexFormat %{index} 的格式，语法为 %[0][width]{d|x|X}
type IndexFormat string

const DefaultIndexFormat IndexFormat = "%d"

var indexFormatRegexp = regexp.MustCompile(`^%(0\d*)?[dxX]$`)

// ParseIndexFormat 只支持 0 这一个 flag，指定宽度时必须带 0
func ParseIndexFormat(format string) (IndexFormat, error) {
	if format == "" {
		return DefaultIndexFormat, nil
	}
	if !indexFormatRegexp.MatchString(format) {
		return "", swifterrors.NewConfigurationError("index_format",
			"index_format parameter should follow `%[flags][width]type`. `0` is the only supported flag, "+
				"and is mandatory if width is specified. `d`, `x` and `X` are supported types, got `"+format+"`")
	}
	return IndexFormat(format), nil
}

func (format IndexFormat) Format(index int) string {
	if format == "" {
		format = DefaultIndexFormat
	}
	return fmt.Sprintf(string(format), index)
}
