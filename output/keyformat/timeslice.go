package keyformat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lestrrat-go/strftime"

	swifterrors "github.com/pli01/swiftsink/output/errors"
)

var zoneOffsetRegexp = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

// TimeSlicer 将 chunk 的时间分桶渲染为 %{time_slice}
type TimeSlicer struct {
	timekey  time.Duration
	pattern  *strftime.Strftime
	location *time.Location
}

// NewTimeSlicer 创建 TimeSlicer。
// format 为空时按 timekey 选择格式：小于一分钟精确到秒，小于一小时精确到分，
// 小于一天精确到小时，否则精确到天；timekey 为 0 时输出空字符串。
// zone 可以是空（本地时区）、UTC、IANA 时区名或 +0900 / -05:30 形式的偏移
func NewTimeSlicer(timekey time.Duration, format, zone string) (*TimeSlicer, error) {
	if format == "" {
		format = FormatForTimekey(timekey)
	}
	slicer := &TimeSlicer{timekey: timekey}
	if format != "" {
		pattern, err := strftime.New(format)
		if err != nil {
			return nil, &swifterrors.ConfigurationError{Field: "time_slice_format", Reason: "invalid format " + strconv.Quote(format), Err: err}
		}
		slicer.pattern = pattern
	}
	location, err := ParseZone(zone)
	if err != nil {
		return nil, &swifterrors.ConfigurationError{Field: "timekey_zone", Reason: "invalid time zone " + strconv.Quote(zone), Err: err}
	}
	slicer.location = location
	return slicer, nil
}

// FormatForTimekey 按 timekey 精度选择 strftime 格式
func FormatForTimekey(timekey time.Duration) string {
	switch {
	case timekey <= 0:
		return ""
	case timekey < time.Minute:
		return "%Y%m%d%H%M%S"
	case timekey < time.Hour:
		return "%Y%m%d%H%M"
	case timekey < 24*time.Hour:
		return "%Y%m%d%H"
	default:
		return "%Y%m%d"
	}
}

func (slicer *TimeSlicer) Location() *time.Location {
	return slicer.location
}

// Bucket 返回 t 所在时间分桶的起点，分桶按时区的本地时间对齐。
// timekey 为 0 时返回 false
func (slicer *TimeSlicer) Bucket(t time.Time) (time.Time, bool) {
	if slicer.timekey <= 0 {
		return time.Time{}, false
	}
	local := t.In(slicer.location)
	_, offset := local.Zone()
	shift := time.Duration(offset) * time.Second
	return local.Add(shift).Truncate(slicer.timekey).Add(-shift), true
}

// Slice 没有时间分桶时返回空字符串
func (slicer *TimeSlicer) Slice(t time.Time, ok bool) string {
	if !ok || slicer.pattern == nil {
		return ""
	}
	return slicer.pattern.FormatString(t.In(slicer.location))
}

// ParseZone 解析时区
func ParseZone(zone string) (*time.Location, error) {
	switch {
	case zone == "":
		return time.Local, nil
	case strings.EqualFold(zone, "UTC") || zone == "Z":
		return time.UTC, nil
	}
	if m := zoneOffsetRegexp.FindStringSubmatch(zone); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		if hours > 23 || minutes > 59 {
			return nil, fmt.Errorf("offset out of range: %s", zone)
		}
		offset := hours*3600 + minutes*60
		if m[1] == "-" {
			offset = -offset
		}
		return time.FixedZone(zone, offset), nil
	}
	return time.LoadLocation(zone)
}

// knownDirectives 记录 strftime 支持的指令
var knownDirectives = func() (known [256]bool) {
	for b := byte(0); b < utf8.RuneSelf; b++ {
		if _, err := strftime.New(string([]byte{'%', b})); err == nil {
			known[b] = true
		}
	}
	return known
}()

// Strftime 渲染 strftime 风格的时间格式。%{...} 占位符、未知指令和结尾的 % 原样保留
func Strftime(format string, t time.Time) string {
	if !strings.Contains(format, "%") {
		return format
	}
	var b strings.Builder
	b.Grow(len(format) + 8)
	last := 0
	for _, loc := range placeholderRegexp.FindAllStringIndex(format, -1) {
		b.WriteString(formatSegment(format[last:loc[0]], t))
		b.WriteString(format[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(formatSegment(format[last:], t))
	return b.String()
}

func formatSegment(segment string, t time.Time) string {
	if !strings.Contains(segment, "%") {
		return segment
	}
	var escaped strings.Builder
	escaped.Grow(len(segment) + 4)
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c != '%' {
			escaped.WriteByte(c)
			continue
		}
		if i+1 < len(segment) && knownDirectives[segment[i+1]] {
			escaped.WriteByte(c)
			escaped.WriteByte(segment[i+1])
			i++
			continue
		}
		escaped.WriteString("%%")
	}
	formatted, err := strftime.Format(escaped.String(), t)
	if err != nil {
		return segment
	}
	return formatted
}
