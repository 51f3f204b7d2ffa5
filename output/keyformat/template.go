package keyformat

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pli01/swiftsink/internal/log"
	swifterrors "github.com/pli01/swiftsink/output/errors"
)

const (
	PlaceholderPath          = "%{path}"
	PlaceholderFileExtension = "%{file_extension}"
	PlaceholderTimeSlice     = "%{time_slice}"
	PlaceholderIndex         = "%{index}"
	PlaceholderHexRandom     = "%{hex_random}"
	PlaceholderUUIDFlush     = "%{uuid_flush}"
	PlaceholderHostname      = "%{hostname}"
)

var (
	removedPlaceholders = []string{"%{uuid}", "%{uuid:random}", "%{uuid:hostname}", "%{uuid:timestamp}"}

	placeholderRegexp = regexp.MustCompile(`%\{[^}]+\}`)
	variableRegexp    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)(\[(-?\d+)\])?\}`)
)

type (
	// Template 校验过的对象名模板，创建后不可修改
	Template struct {
		format    string
		uuidFlush bool
		newUUID   func() (string, error)
	}

	// TemplateOptions 模板解析选项，字段都可以为空
	TemplateOptions struct {
		// 生成 %{uuid_flush} 的函数，默认使用随机 UUID
		NewUUID func() (string, error)
		// 获取 %{hostname} 的函数，默认使用 os.Hostname
		Hostname func() (string, error)
	}

	// Values 一次展开所需的全部替换值
	Values struct {
		Path          string
		FileExtension string
		TimeSlice     string
		Index         string
		HexRandom     string
		// chunk 键值，替换 ${name} 和 ${name[n]}
		Variables map[string]string
		// chunk 的时间分桶，用于替换模板中的 strftime 指令
		TimeKey    time.Time
		HasTimeKey bool
	}
)

func randomUUID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ParseTemplate 校验对象名模板。
// 已移除的 %{uuid} 系列占位符返回 ConfigurationError；
// 使用 %{uuid_flush} 时先生成一次 UUID 作为自检；
// %{hostname} 在此处一次性替换为主机名
func ParseTemplate(format string, options *TemplateOptions) (*Template, error) {
	if options == nil {
		options = &TemplateOptions{}
	}
	newUUID := options.NewUUID
	if newUUID == nil {
		newUUID = randomUUID
	}
	hostname := options.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}

	for _, ph := range removedPlaceholders {
		if strings.Contains(format, ph) {
			return nil, swifterrors.NewConfigurationError("swift_object_key_format", ph+" placeholder in swift_object_key_format is removed")
		}
	}

	template := &Template{format: format, newUUID: newUUID}
	if strings.Contains(format, PlaceholderUUIDFlush) {
		if _, err := newUUID(); err != nil {
			return nil, &swifterrors.ConfigurationError{
				Field:  "swift_object_key_format",
				Reason: "generating uuid doesn't work. Can't use %{uuid_flush} on this environment",
				Err:    err,
			}
		}
		template.uuidFlush = true
	}

	if strings.Contains(format, PlaceholderHostname) {
		log.Warn(`%{hostname} will be removed in the future. Use a literal host name instead`)
		name, err := hostname()
		if err != nil {
			return nil, &swifterrors.ConfigurationError{Field: "swift_object_key_format", Reason: "cannot resolve %{hostname}", Err: err}
		}
		template.format = strings.ReplaceAll(template.format, PlaceholderHostname, name)
	}
	return template, nil
}

func (template *Template) String() string {
	return template.format
}

// UUIDFlushEnabled 模板是否包含 %{uuid_flush}
func (template *Template) UUIDFlushEnabled() bool {
	return template.uuidFlush
}

// HasIndex 模板是否包含 %{index}
func (template *Template) HasIndex() bool {
	return strings.Contains(template.format, PlaceholderIndex)
}

// Expand 展开模板。先替换 %{path} 和 %{file_extension}，再替换 chunk 键值和时间指令，
// 最后替换 %{time_slice}、%{index}、%{hex_random}、%{uuid_flush}。
// 无法识别的 %{...} 和 ${...} 原样保留
func (template *Template) Expand(values *Values) (string, error) {
	pre := map[string]string{
		PlaceholderPath:          values.Path,
		PlaceholderFileExtension: values.FileExtension,
	}
	key := replacePlaceholders(template.format, pre)

	key = replaceVariables(key, values.Variables)
	if values.HasTimeKey {
		key = Strftime(key, values.TimeKey)
	}

	post := map[string]string{
		PlaceholderTimeSlice: values.TimeSlice,
		PlaceholderIndex:     values.Index,
		PlaceholderHexRandom: values.HexRandom,
	}
	if template.uuidFlush {
		u, err := template.newUUID()
		if err != nil {
			return "", fmt.Errorf("generate %s: %w", PlaceholderUUIDFlush, err)
		}
		post[PlaceholderUUIDFlush] = u
	}
	return replacePlaceholders(key, post), nil
}

func replacePlaceholders(s string, values map[string]string) string {
	return placeholderRegexp.ReplaceAllStringFunc(s, func(matched string) string {
		if v, ok := values[matched]; ok {
			return v
		}
		return matched
	})
}

func replaceVariables(s string, variables map[string]string) string {
	if len(variables) == 0 || !strings.Contains(s, "${") {
		return s
	}
	return variableRegexp.ReplaceAllStringFunc(s, func(matched string) string {
		groups := variableRegexp.FindStringSubmatch(matched)
		value, ok := variables[groups[1]]
		if !ok {
			return matched
		}
		if groups[2] == "" {
			return value
		}
		n, err := strconv.Atoi(groups[3])
		if err != nil {
			return matched
		}
		parts := strings.Split(value, ".")
		if n < 0 {
			n += len(parts)
		}
		if n < 0 || n >= len(parts) {
			return matched
		}
		return parts[n]
	})
}
