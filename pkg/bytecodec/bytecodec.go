// Package bytecodec 提供定宽数值与字节数组之间的小端序打包/解包，
// 以及文件内容哈希的计算。
package bytecodec

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"binsim-go/internal/apperr"
)

// PackDoubles 将 float64 切片按 IEEE-754 小端序打包为字节数组。
// 返回长度恒为 len(values)*8。
func PackDoubles(values []float64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// UnpackDoubles 将小端序字节数组还原为 float64 切片。
// 字节长度不是 8 的整数倍时返回 ErrInvalidEncoding。
func UnpackDoubles(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: 字节长度 %d 不是 8 的整数倍", apperr.ErrInvalidEncoding, len(data))
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}

// PackInt32s 将 int32 切片按小端序打包为字节数组。
func PackInt32s(values []int32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

// UnpackInt32s 将小端序字节数组还原为 int32 切片。
// 字节长度不是 4 的整数倍时返回 ErrInvalidEncoding。
func UnpackInt32s(data []byte) ([]int32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: 字节长度 %d 不是 4 的整数倍", apperr.ErrInvalidEncoding, len(data))
	}
	out := make([]int32, len(data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// Sha256Hex 计算原始字节的 SHA-256 摘要，返回 64 位小写十六进制字符串。
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
