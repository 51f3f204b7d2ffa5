package configfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pli01/swiftsink/internal/env"
	swifterrors "github.com/pli01/swiftsink/output/errors"
)

const (
	TagName        = "validate"
	DefaultProfile = "default"
)

var ErrProfileNotFound = errors.New("profile not found")

// Config 一个 profile 的全部配置
type Config struct {
	StorageURL           string   `toml:"storage_url" yaml:"storage_url" validate:"required,url"`
	AuthToken            string   `toml:"auth_token" yaml:"auth_token" validate:"required"`
	SwiftAccount         string   `toml:"swift_account" yaml:"swift_account"`
	SwiftContainer       string   `toml:"swift_container" yaml:"swift_container" validate:"required,excludes=/"`
	Path                 string   `toml:"path" yaml:"path"`
	StoreAs              string   `toml:"store_as" yaml:"store_as"`
	SwiftObjectKeyFormat string   `toml:"swift_object_key_format" yaml:"swift_object_key_format" validate:"required"`
	IndexFormat          string   `toml:"index_format" yaml:"index_format" validate:"required"`
	HexRandomLength      int      `toml:"hex_random_length" yaml:"hex_random_length" validate:"min=1,max=16"`
	Overwrite            bool     `toml:"overwrite" yaml:"overwrite"`
	AutoCreateContainer  bool     `toml:"auto_create_container" yaml:"auto_create_container"`
	SSLVerify            bool     `toml:"ssl_verify" yaml:"ssl_verify"`
	ProxyURI             string   `toml:"proxy_uri" yaml:"proxy_uri" validate:"omitempty,url"`
	Timekey              Duration `toml:"timekey" yaml:"timekey" validate:"min=0"`
	TimekeyZone          string   `toml:"timekey_zone" yaml:"timekey_zone"`
	TimeSliceFormat      string   `toml:"time_slice_format" yaml:"time_slice_format"`
	TempDir              string   `toml:"temp_dir" yaml:"temp_dir"`
	StateFile            string   `toml:"state_file" yaml:"state_file"`
	LzopCommand          string   `toml:"lzop_command" yaml:"lzop_command"`
	RetryMax             int      `toml:"retry_max" yaml:"retry_max" validate:"min=0,max=10"`
	MaxProbes            int      `toml:"max_probes" yaml:"max_probes" validate:"min=0"`
	RequestTimeout       Duration `toml:"request_timeout" yaml:"request_timeout" validate:"min=0"`
	DialTimeout          Duration `toml:"dial_timeout" yaml:"dial_timeout" validate:"min=0"`
	Concurrency          int      `toml:"concurrency" yaml:"concurrency" validate:"min=1,max=256"`
	LogLevel             string   `toml:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		StoreAs:              "gzip",
		SwiftObjectKeyFormat: "%{path}%{time_slice}_%{index}.%{file_extension}",
		IndexFormat:          "%d",
		HexRandomLength:      4,
		AutoCreateContainer:  true,
		SSLVerify:            true,
		Timekey:              Duration(24 * time.Hour),
		LzopCommand:          "lzop",
		RetryMax:             2,
		Concurrency:          4,
		LogLevel:             "info",
	}
}

// Duration 支持 Go 时长格式（"1h30m"）、天数（"1d"）以及整数秒（"3600"）
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName(TagName)
	})
	return validate
}

// Validate 校验配置，失败时返回 *errors.ConfigurationError
func (config *Config) Validate() error {
	if err := getValidator().Struct(config); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fieldError := validationErrors[0]
			return &swifterrors.ConfigurationError{
				Field:  fieldError.Field(),
				Reason: fmt.Sprintf("failed on the '%s' rule", fieldError.Tag()),
				Err:    err,
			}
		}
		return &swifterrors.ConfigurationError{Reason: "invalid configuration", Err: err}
	}
	return nil
}

// applyEnvironment 配置文件没有给出的连接信息从环境变量中读取
func (config *Config) applyEnvironment() {
	if config.StorageURL == "" {
		config.StorageURL = env.StorageURLFromEnvironment()
	}
	if config.AuthToken == "" {
		config.AuthToken = env.AuthTokenFromEnvironment()
	}
}

// Load 读取配置文件中的一个 profile。
// path 为空时使用 SWIFTSINK_CONFIG_FILE 或 ~/.swiftsink/config.toml，
// profile 为空时使用 SWIFTSINK_PROFILE 或 default。
// 以 .yaml / .yml 结尾的文件按 YAML 解析，其他按 TOML 解析
func Load(path, profile string) (*Config, error) {
	if path == "" {
		path = env.ConfigFileFromEnvironment()
	}
	if path == "" {
		path = getDefaultConfigFilePath()
	}
	if profile == "" {
		profile = env.ProfileFromEnvironment()
	}
	if profile == "" {
		profile = DefaultProfile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &swifterrors.ConfigurationError{Field: "config", Reason: "cannot read " + path, Err: err}
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAMLProfile(data, profile, config)
	default:
		err = decodeTOMLProfile(data, profile, config)
	}
	if err != nil {
		return nil, &swifterrors.ConfigurationError{Field: "config", Reason: "cannot parse " + path, Err: err}
	}
	config.applyEnvironment()
	return config, nil
}

func decodeTOMLProfile(data []byte, profile string, config *Config) error {
	var profiles map[string]toml.Primitive
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&profiles)
	if err != nil {
		return err
	}
	primitive, ok := profiles[profile]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	}
	return md.PrimitiveDecode(primitive, config)
}

func decodeYAMLProfile(data []byte, profile string, config *Config) error {
	var profiles map[string]yaml.Node
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return err
	}
	node, ok := profiles[profile]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	}
	return node.Decode(config)
}

func getDefaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return filepath.Join(homeDir, ".swiftsink", "config.toml")
}
