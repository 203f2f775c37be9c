// Package apperr 定义了应用内统一的错误分类。
// 处理器依据这些哨兵错误把处理失败映射为 HTTP 状态码。
package apperr

import "errors"

var (
	// ErrInvalidArgument 形状或长度违例（向量长度不匹配、字节长度非元素宽度的整数倍）。
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidEncoding 持久化的二进制块或外部工具返回的 JSON 格式损坏。
	ErrInvalidEncoding = errors.New("invalid encoding")

	// ErrMissingFilename 上传请求缺少原始文件名。
	ErrMissingFilename = errors.New("missing original filename")

	// ErrParseFailure ELF 解析失败。非致命：提取流程继续，parsing_successful 置为 false。
	ErrParseFailure = errors.New("elf parse failure")

	// ErrExternalToolFailure 外部分类器或 readelf 返回非零/空结果。
	ErrExternalToolFailure = errors.New("external tool failure")

	// ErrIoFailure 文件系统或归档读写错误。
	ErrIoFailure = errors.New("io failure")

	// ErrNotFound 比较时缺少必需的表示。
	ErrNotFound = errors.New("representation not found")

	// ErrDeadlineExceeded 请求截止时间已过。
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// IsProcessingError 判断 err 是否属于应映射为 HTTP 400 的处理错误。
func IsProcessingError(err error) bool {
	for _, kind := range []error{
		ErrInvalidArgument,
		ErrInvalidEncoding,
		ErrMissingFilename,
		ErrExternalToolFailure,
		ErrIoFailure,
		ErrNotFound,
		ErrDeadlineExceeded,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
