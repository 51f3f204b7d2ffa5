package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyProbes 唯一对象名探测次数超过上限
	ErrTooManyProbes = errors.New("too many existence probes")

	// ErrContainerNotExist 容器不存在且未开启自动创建
	ErrContainerNotExist = errors.New("container does not exist")
)

type (
	// ConfigurationError 配置错误，在任何上传之前抛出，进程应当终止
	ConfigurationError struct {
		Field  string
		Reason string
		Err    error
	}

	// DuplicatePathError 对象名模板不随 index 变化，且未开启覆盖
	DuplicatePathError struct {
		Key string
	}

	// TransportError 存储后端或网络错误，调度器可整体重试本次投递
	TransportError struct {
		Op        string
		Container string
		Key       string
		Err       error
	}

	// MaterializationError 生成上传文件时的 I/O 或压缩错误
	MaterializationError struct {
		Format string
		Path   string
		Err    error
	}
)

func (err *ConfigurationError) Error() string {
	msg := err.Reason
	if err.Field != "" {
		msg = fmt.Sprintf("%s: %s", err.Field, err.Reason)
	}
	if err.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, err.Err)
	}
	return "configuration error: " + msg
}

func (err *ConfigurationError) Unwrap() error {
	return err.Err
}

func (err *DuplicatePathError) Error() string {
	return "duplicated path is generated. use %{index} in swift_object_key_format: path = " + err.Key
}

func (err *TransportError) Error() string {
	target := err.Container
	if err.Key != "" {
		target += "/" + err.Key
	}
	return fmt.Sprintf("%s %s: %s", err.Op, target, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

func (err *MaterializationError) Error() string {
	if err.Path != "" {
		return fmt.Sprintf("materialize %s artifact %s: %s", err.Format, err.Path, err.Err)
	}
	return fmt.Sprintf("materialize %s artifact: %s", err.Format, err.Err)
}

func (err *MaterializationError) Unwrap() error {
	return err.Err
}

func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsDuplicatePath(err error) bool {
	var target *DuplicatePathError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func IsMaterialization(err error) bool {
	var target *MaterializationError
	return errors.As(err, &target)
}

// IsRetryable 是否值得由调度器整体重试，只有传输错误是可重试的
func IsRetryable(err error) bool {
	return IsTransport(err)
}
