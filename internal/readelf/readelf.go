// Package readelf 通过外部 readelf 命令提取程序头，
// 作为进程内 ELF 解析器不可用时的备用来源。
package readelf

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"binsim-go/internal/apperr"
	"binsim-go/internal/model"

	"github.com/sethvargo/go-retry"
)

// ExtractProgramHeaders 执行 `readelf -lW <path>` 并解析其列式输出。
// 瞬时失败（如进程暂时不可启动）按指数退避重试两次。
func ExtractProgramHeaders(ctx context.Context, path string) ([]model.ProgramHeader, error) {
	var out []byte
	backoff := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "readelf", "-lW", path)
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		if err := cmd.Run(); err != nil {
			return retry.RetryableError(err)
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: readelf %s: %v", apperr.ErrDeadlineExceeded, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: readelf %s: %v", apperr.ErrExternalToolFailure, path, err)
	}
	return ParseOutput(out), nil
}

// ParseOutput 解析 readelf -lW 的输出行。
// 无法识别的行被跳过；完全没有程序头表时返回空列表。
func ParseOutput(out []byte) []model.ProgramHeader {
	var result []model.ProgramHeader

	scanner := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for scanner.Scan() {
		line := scanner.Text()
		if !inTable {
			if strings.HasPrefix(strings.TrimSpace(line), "Type") && strings.Contains(line, "Offset") {
				inTable = true
			}
			continue
		}

		raw := strings.TrimSpace(line)
		if raw == "" || strings.HasPrefix(raw, "Section to") {
			break
		}
		// 跳过解释器注释行（"[Requesting program interpreter: ...]"）
		if strings.HasPrefix(raw, "[") {
			continue
		}

		cols := strings.Fields(raw)
		// 至少需要 Type, Offset, VirtAddr, PhysAddr, FileSiz, MemSiz, Flags(>=1), Align
		if len(cols) < 8 {
			continue
		}

		alignTok := cols[len(cols)-1]
		if !strings.HasPrefix(alignTok, "0x") || len(alignTok) < 3 {
			continue
		}

		offset, err1 := parseHex(cols[1])
		vaddr, err2 := parseHex(cols[2])
		paddr, err3 := parseHex(cols[3])
		fileSize, err4 := parseHex(cols[4])
		memSize, err5 := parseHex(cols[5])
		align, err6 := parseHex(alignTok)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
			continue
		}

		result = append(result, model.ProgramHeader{
			Type:     cols[0],
			Offset:   offset,
			Vaddr:    vaddr,
			Paddr:    paddr,
			FileSize: fileSize,
			MemSize:  memSize,
			Flags:    strings.Join(cols[6:len(cols)-1], " "),
			Align:    align,
		})
	}
	return result
}

func parseHex(tok string) (uint64, error) {
	s := strings.TrimPrefix(tok, "0x")
	if s == tok {
		return 0, fmt.Errorf("not hex: %q", tok)
	}
	return strconv.ParseUint(s, 16, 64)
}
