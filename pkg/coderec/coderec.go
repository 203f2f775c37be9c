// Package coderec 封装外部 coderec 分类器：对给定文件产出一组
// 按熵特征归类的字节区域 (start, end, length, tag)。
//
// 分类器是一个输出 JSON 的本地可执行程序。批量模式下它把多个 JSON
// 对象不带分隔符地连续写出，本包在 "}{" 边界上切分后逐个解析。
package coderec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"binsim-go/internal/apperr"
	"binsim-go/pkg/log"

	"github.com/sethvargo/go-retry"
)

// BatchSize 是单次分类器调用可接受的最大路径数。
const BatchSize = 200

// CodeRegion 表示分类器识别出的一个区域，end 为开区间端点。
type CodeRegion struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Length uint64 `json:"length"`
	Tag    string `json:"tag"`
}

// Client 是 coderec 可执行程序的客户端。
type Client struct {
	enabled  bool
	location string
}

// NewClient 创建分类器客户端。enabled 为 false 时所有分析返回空列表。
func NewClient(enabled bool, location string) *Client {
	return &Client{enabled: enabled, location: location}
}

// Enabled 报告分类器是否启用。
func (c *Client) Enabled() bool { return c.enabled }

// Analyze 对单个文件运行分类器并返回其区域列表。
func (c *Client) Analyze(ctx context.Context, path string) ([]CodeRegion, error) {
	if !c.enabled {
		return []CodeRegion{}, nil
	}
	results, err := c.AnalyzeBatch(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	regions, ok := results[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("%w: coderec 未返回 %s 的结果", apperr.ErrExternalToolFailure, path)
	}
	return regions, nil
}

// AnalyzeBatch 以不超过 BatchSize 的批次分析多个文件，
// 结果按 JSON 中 file 字段的文件名（basename）索引。
func (c *Client) AnalyzeBatch(ctx context.Context, paths []string) (map[string][]CodeRegion, error) {
	result := make(map[string][]CodeRegion, len(paths))
	if !c.enabled {
		for _, p := range paths {
			result[filepath.Base(p)] = []CodeRegion{}
		}
		return result, nil
	}

	for i := 0; i < len(paths); i += BatchSize {
		end := i + BatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[i:end]

		raw, err := c.run(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, blob := range SplitConcatenated(raw) {
			name, regions, err := parseDocument([]byte(blob))
			if err != nil {
				return nil, err
			}
			result[name] = regions
		}
	}
	return result, nil
}

// run 执行一次分类器进程并返回原始输出。
func (c *Client) run(ctx context.Context, batch []string) (string, error) {
	args := make([]string, 0, len(batch))
	args = append(args, batch...)

	log.Infof("运行 coderec：%s（%d 个文件）", c.location, len(batch))

	var out string
	backoff := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, c.location, args...)
		cmd.Dir = filepath.Dir(batch[0])
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		if err := cmd.Run(); err != nil {
			return retry.RetryableError(err)
		}
		out = buf.String()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: coderec: %v", apperr.ErrDeadlineExceeded, ctx.Err())
		}
		return "", fmt.Errorf("%w: coderec: %v", apperr.ErrExternalToolFailure, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: coderec 输出为空", apperr.ErrExternalToolFailure)
	}
	return out, nil
}

// SplitConcatenated 在 "}{" 边界上切分连续写出的 JSON 对象。
func SplitConcatenated(all string) []string {
	all = strings.TrimSpace(strings.ReplaceAll(all, "\n", ""))
	parts := strings.Split(strings.ReplaceAll(all, "}{", "}\x00{"), "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDocument 解析单个 JSON 文档，返回 file 字段的 basename 与区域列表。
// range_results 的元素是混合类型的三元组 [{start,end}, length, tag]。
func parseDocument(blob []byte) (string, []CodeRegion, error) {
	var doc struct {
		File         string           `json:"file"`
		RangeResults *json.RawMessage `json:"range_results"`
	}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return "", nil, fmt.Errorf("%w: coderec JSON 解析失败: %v", apperr.ErrInvalidEncoding, err)
	}
	if doc.RangeResults == nil {
		return "", nil, fmt.Errorf("%w: coderec JSON 缺少 range_results", apperr.ErrInvalidEncoding)
	}

	var entries [][]json.RawMessage
	if err := json.Unmarshal(*doc.RangeResults, &entries); err != nil {
		return "", nil, fmt.Errorf("%w: range_results 格式错误: %v", apperr.ErrInvalidEncoding, err)
	}

	regions := make([]CodeRegion, 0, len(entries))
	for _, entry := range entries {
		if len(entry) != 3 {
			return "", nil, fmt.Errorf("%w: range_results 元素应为三元组", apperr.ErrInvalidEncoding)
		}
		var coords struct {
			Start uint64 `json:"start"`
			End   uint64 `json:"end"`
		}
		var length uint64
		var tag string
		if err := json.Unmarshal(entry[0], &coords); err != nil {
			return "", nil, fmt.Errorf("%w: 区域坐标格式错误: %v", apperr.ErrInvalidEncoding, err)
		}
		if err := json.Unmarshal(entry[1], &length); err != nil {
			return "", nil, fmt.Errorf("%w: 区域长度格式错误: %v", apperr.ErrInvalidEncoding, err)
		}
		if err := json.Unmarshal(entry[2], &tag); err != nil {
			return "", nil, fmt.Errorf("%w: 区域标签格式错误: %v", apperr.ErrInvalidEncoding, err)
		}
		regions = append(regions, CodeRegion{Start: coords.Start, End: coords.End, Length: length, Tag: tag})
	}

	name := filepath.Base(strings.ReplaceAll(doc.File, `\`, `/`))
	return name, regions, nil
}

// SerializeRegions 把区域列表序列化为可往返的自描述 JSON 字节。
func SerializeRegions(regions []CodeRegion) ([]byte, error) {
	if regions == nil {
		regions = []CodeRegion{}
	}
	data, err := json.Marshal(regions)
	if err != nil {
		return nil, fmt.Errorf("%w: 序列化区域列表失败: %v", apperr.ErrInvalidEncoding, err)
	}
	return data, nil
}

// DeserializeRegions 从持久化字节还原区域列表。
func DeserializeRegions(data []byte) ([]CodeRegion, error) {
	var regions []CodeRegion
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("%w: 反序列化区域列表失败: %v", apperr.ErrInvalidEncoding, err)
	}
	return regions, nil
}
