// Package strscan 从二进制文件中提取可打印 ASCII 字符串，
// 行为与 Unix strings 工具在相同最小长度下一致。
package strscan

import (
	"bufio"
	"fmt"
	"os"

	"binsim-go/internal/apperr"

	"golang.org/x/sys/unix"
)

// DefaultMinLength 与 GNU strings 的默认最小长度一致。
const DefaultMinLength = 4

// Scan 扫描文件并返回按文件顺序出现的可打印字符串。
// 文件可映射时走 mmap 路径，否则退回缓冲顺序读取。
func Scan(path string, minLen int) ([]string, error) {
	if minLen <= 0 {
		minLen = DefaultMinLength
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开 %s: %v", apperr.ErrIoFailure, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", apperr.ErrIoFailure, path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	if data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED); err == nil {
		defer unix.Munmap(data)
		return ScanBytes(data, minLen), nil
	}

	return scanReader(bufio.NewReaderSize(f, 1<<20), minLen)
}

// ScanBytes 扫描内存中的字节序列，语义与 Scan 一致。
func ScanBytes(data []byte, minLen int) []string {
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	var out []string
	run := make([]byte, 0, 64)
	for _, b := range data {
		if printable(b) {
			run = append(run, b)
			continue
		}
		if len(run) >= minLen {
			out = append(out, string(run))
		}
		run = run[:0]
	}
	if len(run) >= minLen {
		out = append(out, string(run))
	}
	return out
}

func scanReader(r *bufio.Reader, minLen int) ([]string, error) {
	var out []string
	run := make([]byte, 0, 64)
	for {
		b, err := r.ReadByte()
		if err != nil {
			break
		}
		if printable(b) {
			run = append(run, b)
			continue
		}
		if len(run) >= minLen {
			out = append(out, string(run))
		}
		run = run[:0]
	}
	if len(run) >= minLen {
		out = append(out, string(run))
	}
	return out, nil
}

// printable 判断字节是否属于 [0x20,0x7E] 或制表符。
func printable(b byte) bool {
	return (b >= 0x20 && b <= 0x7E) || b == '\t'
}
