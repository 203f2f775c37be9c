package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"binsim-go/internal/apperr"
	"binsim-go/internal/model"
	"binsim-go/internal/pipeline"
	"binsim-go/internal/repository"
	"binsim-go/pkg/bytecodec"
	"binsim-go/pkg/coderec"
	"binsim-go/pkg/log"

	"github.com/google/uuid"
)

// AnalysisService 接口定义了文件分析相关的业务操作。
type AnalysisService interface {
	// Analyze 入库上传文件（若 (哈希,文件名) 尚不存在）并与目录中全部记录比较。
	Analyze(ctx context.Context, filename string, raw []byte) ([]model.FileComparison, error)
	// Compare 直接比较两个上传文件，不做持久化。
	Compare(ctx context.Context, name1 string, raw1 []byte, name2 string, raw2 []byte) (*model.FileComparison, error)
	// ImportZipArchive 把归档内的全部文件解包、分析并入库。
	// requested 只决定是否运行区域分类器：非空且不含 CODE_REGION_LIST 时跳过分类，
	// 区域列表按空列表入库；其余表示总是计算。空切片表示全部。
	ImportZipArchive(ctx context.Context, archive []byte, requested []model.RepresentationType) error
}

// fileAnalysisService 是 AnalysisService 接口的默认实现。
type fileAnalysisService struct {
	repo       repository.FileRepository
	extractor  *pipeline.Extractor
	comparison *ComparisonService
	coderec    *coderec.Client
}

// NewAnalysisService 创建一个新的 AnalysisService 实例。
func NewAnalysisService(
	repo repository.FileRepository,
	extractor *pipeline.Extractor,
	comparison *ComparisonService,
	coderecClient *coderec.Client,
) AnalysisService {
	return &fileAnalysisService{
		repo:       repo,
		extractor:  extractor,
		comparison: comparison,
		coderec:    coderecClient,
	}
}

// workerCount 返回扇出并行度：逻辑 CPU 数，下限 2。
func workerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	return n
}

// Analyze 先取目录快照，再构建上传文件的表示；快照在比较期间不可变。
// 返回列表的顺序与快照一致。
func (s *fileAnalysisService) Analyze(ctx context.Context, filename string, raw []byte) ([]model.FileComparison, error) {
	log.Infof("[Analyze] 开始分析: %s", filename)

	snapshot, err := s.repo.FindAll()
	if err != nil {
		return nil, err
	}

	record, err := s.extractor.Extract(ctx, filename, raw, nil)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByHashAndFilename(ctx, record.Sha256, record.Filename)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.repo.Save(record); err != nil {
			return nil, err
		}
		log.Infof("[Analyze] 新文件已入库: %s (sha256=%s)", record.Filename, record.Sha256)
	}

	results := make([]model.FileComparison, len(snapshot))
	errs := make([]error, len(snapshot))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workerCount())
	for i := range snapshot {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			cmp, cErr := s.comparison.CompareFiles(ctx, record, &snapshot[i])
			if cErr != nil {
				errs[i] = cErr
				return
			}
			results[i] = *cmp
		}(i)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}
	return results, nil
}

// Compare 构建两侧的内存表示并委托比较器；哈希相同由比较器短路处理。
func (s *fileAnalysisService) Compare(ctx context.Context, name1 string, raw1 []byte, name2 string, raw2 []byte) (*model.FileComparison, error) {
	rec1, err := s.extractor.Extract(ctx, name1, raw1, nil)
	if err != nil {
		return nil, err
	}
	rec2, err := s.extractor.Extract(ctx, name2, raw2, nil)
	if err != nil {
		return nil, err
	}
	return s.comparison.CompareFiles(ctx, rec1, rec2)
}

// zipEntry 是从归档解包出的一个文件。
type zipEntry struct {
	name   string
	path   string
	sha256 string
}

// ImportZipArchive 解包归档到任务级临时目录，对全部路径批量运行分类器，
// 再逐个构建记录并入库。单个文件的失败只记日志，不中断其余文件。
func (s *fileAnalysisService) ImportZipArchive(ctx context.Context, archive []byte, requested []model.RepresentationType) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("%w: 打开 ZIP 归档失败: %v", apperr.ErrIoFailure, err)
	}

	tempDir, err := os.MkdirTemp("", "zip-import-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return fmt.Errorf("%w: 创建临时目录: %v", apperr.ErrIoFailure, err)
	}
	defer os.RemoveAll(tempDir)

	entries, err := extractEntries(reader, tempDir)
	if err != nil {
		return err
	}
	entries = dedupeByHash(entries)
	total := len(entries)
	log.Infof("[ImportZip] 归档共 %d 个文件（按哈希去重后）", total)
	if total == 0 {
		return nil
	}

	// 区域分类按批次先行，结果按文件名索引
	regionsByName := map[string][]coderec.CodeRegion{}
	if wantsRegions(requested) {
		paths := make([]string, len(entries))
		for i, e := range entries {
			paths[i] = e.path
		}
		regionsByName, err = s.coderec.AnalyzeBatch(ctx, paths)
		if err != nil {
			// 分类器整体失败时降级为空区域，不阻断导入
			log.Warnf("[ImportZip] 区域分类失败，全部文件按空区域导入: %v", err)
			regionsByName = map[string][]coderec.CodeRegion{}
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workerCount())
	nextLogThreshold := 5
	for i, entry := range entries {
		if err := checkCtx(ctx); err != nil {
			wg.Wait()
			return err
		}
		if percent := i * 100 / total; percent >= nextLogThreshold {
			log.Infof("[ImportZip]   → %d%% 完成（%d / %d）", percent, i, total)
			nextLogThreshold += 5
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(entry zipEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.importOne(ctx, entry, regionsByName); err != nil {
				log.Errorf("[ImportZip] 处理 '%s' 失败: %v", entry.name, err)
			}
		}(entry)
	}
	wg.Wait()

	log.Infof("[ImportZip] 导入完成，共 %d 个文件", total)
	return nil
}

// importOne 构建单个归档条目的记录并在哈希未入库时持久化。
func (s *fileAnalysisService) importOne(ctx context.Context, entry zipEntry, regionsByName map[string][]coderec.CodeRegion) error {
	raw, err := os.ReadFile(entry.path)
	if err != nil {
		return fmt.Errorf("%w: 读取 %s: %v", apperr.ErrIoFailure, entry.name, err)
	}

	regions, ok := regionsByName[filepath.Base(entry.path)]
	if !ok {
		regions = []coderec.CodeRegion{}
	}

	record, err := s.extractor.Extract(ctx, entry.name, raw, regions)
	if err != nil {
		return err
	}

	existing, err := s.repo.FindByHash(record.Sha256)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Infof("[ImportZip] 已存在，跳过: %s (sha256=%s)", entry.name, record.Sha256)
		return nil
	}
	return s.repo.Save(record)
}

// extractEntries 把归档中的非目录条目解包到 dir 下，每个条目独立子目录。
func extractEntries(reader *zip.Reader, dir string) ([]zipEntry, error) {
	var entries []zipEntry
	for i, zf := range reader.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: 打开归档条目 %s: %v", apperr.ErrIoFailure, zf.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: 读取归档条目 %s: %v", apperr.ErrIoFailure, zf.Name, err)
		}

		entryDir := filepath.Join(dir, fmt.Sprintf("%d", i))
		if err := os.MkdirAll(entryDir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrIoFailure, err)
		}
		path := filepath.Join(entryDir, filepath.Base(zf.Name))
		if err := os.WriteFile(path, content, 0o600); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrIoFailure, err)
		}
		entries = append(entries, zipEntry{
			name:   zf.Name,
			path:   path,
			sha256: bytecodec.Sha256Hex(content),
		})
	}
	return entries, nil
}

// dedupeByHash 在扇出之前按内容哈希折叠归档内的重复条目（保留首个）。
// 入库以哈希为键，先行去重也避免了并发工作协程对同一哈希的检查后写入竞争。
func dedupeByHash(entries []zipEntry) []zipEntry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, dup := seen[e.sha256]; dup {
			log.Infof("[ImportZip] 归档内容重复，跳过: %s (sha256=%s)", e.name, e.sha256)
			continue
		}
		seen[e.sha256] = struct{}{}
		out = append(out, e)
	}
	return out
}

// wantsRegions 判断请求的表示类型是否包含区域列表（空请求表示全部）。
func wantsRegions(requested []model.RepresentationType) bool {
	if len(requested) == 0 {
		return true
	}
	for _, t := range requested {
		if t == model.CodeRegionList {
			return true
		}
	}
	return false
}
