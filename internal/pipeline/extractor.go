// Package pipeline 定义了从原始文件字节到完整文件记录的提取流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"binsim-go/internal/apperr"
	"binsim-go/internal/elfx"
	"binsim-go/internal/feature"
	"binsim-go/internal/model"
	"binsim-go/internal/readelf"
	"binsim-go/pkg/bytecodec"
	"binsim-go/pkg/coderec"
	"binsim-go/pkg/log"
	"binsim-go/pkg/minhash"
	"binsim-go/pkg/strscan"

	"github.com/google/uuid"
)

// Extractor 封装了表示提取的全部依赖。
type Extractor struct {
	engine  *minhash.Engine
	coderec *coderec.Client
}

// NewExtractor 创建一个新的 Extractor 实例。
func NewExtractor(engine *minhash.Engine, coderecClient *coderec.Client) *Extractor {
	return &Extractor{engine: engine, coderec: coderecClient}
}

// Extract 从 (文件名, 原始字节) 构建一条带全部表示的文件记录，不做持久化。
//
// precomputedRegions 非 nil 时跳过单文件分类器调用（批量导入已经跑过批处理）。
// ELF 解析失败不是错误：记录的 parsing_successful 置为 false，
// 头部向量与节大小向量被跳过，其余表示仍从原始字节产出。
func (e *Extractor) Extract(ctx context.Context, filename string, raw []byte, precomputedRegions []coderec.CodeRegion) (*model.FileRecord, error) {
	if filename == "" {
		return nil, apperr.ErrMissingFilename
	}

	record := &model.FileRecord{
		Filename: filename,
		Sha256:   bytecodec.Sha256Hex(raw),
	}

	elfFile, err := elfx.Parse(raw)
	if err != nil && !errors.Is(err, apperr.ErrParseFailure) {
		return nil, err
	}
	record.ParsingSuccessful = err == nil

	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	// 临时文件只在外部工具需要路径时物化，作用域内保证递归删除
	var tempPath string
	var tempDir string
	materialize := func() (string, error) {
		if tempPath != "" {
			return tempPath, nil
		}
		dir, err := os.MkdirTemp("", "elf-upload-"+uuid.NewString()[:8]+"-")
		if err != nil {
			return "", fmt.Errorf("%w: 创建临时目录: %v", apperr.ErrIoFailure, err)
		}
		tempDir = dir
		p := filepath.Join(dir, filepath.Base(filename))
		if err := os.WriteFile(p, raw, 0o600); err != nil {
			return "", fmt.Errorf("%w: 写入临时文件: %v", apperr.ErrIoFailure, err)
		}
		tempPath = p
		return p, nil
	}
	defer func() {
		if tempDir != "" {
			_ = os.RemoveAll(tempDir)
		}
	}()

	// 字符串 MinHash 签名：对所有文件（包括解析失败的）都产出
	tokens := e.engine.TokenSet(strscan.ScanBytes(raw, strscan.DefaultMinLength))
	record.AddRepresentation(model.StringMinhash, bytecodec.PackInt32s(e.engine.Signature(tokens)))

	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	// 区域列表
	regions := precomputedRegions
	if regions == nil {
		if e.coderec.Enabled() {
			path, err := materialize()
			if err != nil {
				return nil, err
			}
			regions, err = e.coderec.Analyze(ctx, path)
			if err != nil {
				return nil, err
			}
		} else {
			regions = []coderec.CodeRegion{}
		}
	}
	regionData, err := coderec.SerializeRegions(regions)
	if err != nil {
		return nil, err
	}
	record.AddRepresentation(model.CodeRegionList, regionData)

	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	// 程序头向量：优先进程内解析结果，退回外部 readelf
	var headers []model.ProgramHeader
	if record.ParsingSuccessful {
		headers = elfFile.ProgramHeaders()
	} else {
		path, merr := materialize()
		if merr != nil {
			return nil, merr
		}
		headers, err = readelf.ExtractProgramHeaders(ctx, path)
		if err != nil {
			if errors.Is(err, apperr.ErrDeadlineExceeded) {
				return nil, err
			}
			log.Warnf("readelf 提取程序头失败 (%s)，程序头向量为空: %v", filename, err)
			headers = nil
		}
	}
	record.AddRepresentation(model.ProgramHeaderVector, bytecodec.PackDoubles(feature.BuildProgramHeaderVector(headers)))

	if record.ParsingSuccessful {
		record.AddRepresentation(model.ElfHeaderVector, bytecodec.PackDoubles(elfFile.HeaderVector()))
		record.AddRepresentation(model.SectionSizeVector, bytecodec.PackDoubles(elfFile.SectionSizeVector()))
	}

	return record, nil
}

// checkCtx 把取消与超时映射到应用错误分类。
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.ErrDeadlineExceeded
		}
		return err
	}
	return nil
}
