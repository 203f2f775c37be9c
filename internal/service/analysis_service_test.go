package service

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"binsim-go/internal/model"
	"binsim-go/internal/pipeline"
	"binsim-go/internal/testutil"
	"binsim-go/pkg/coderec"
	"binsim-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// memoryFileRepository 是 FileRepository 的内存实现，仅用于测试。
type memoryFileRepository struct {
	mu      sync.Mutex
	records []model.FileRecord
	nextID  uint
}

func newMemoryRepo() *memoryFileRepository {
	return &memoryFileRepository{nextID: 1}
}

func (r *memoryFileRepository) FindByHash(sha256 string) ([]model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.FileRecord
	for _, rec := range r.records {
		if rec.Sha256 == sha256 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryFileRepository) FindByHashAndFilename(sha256, filename string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].Sha256 == sha256 && r.records[i].Filename == filename {
			rec := r.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (r *memoryFileRepository) FindAll() ([]model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.FileRecord(nil), r.records...), nil
}

func (r *memoryFileRepository) Save(record *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = r.nextID
	r.nextID++
	for i := range record.Representations {
		record.Representations[i].FileID = record.ID
	}
	r.records = append(r.records, *record)
	return nil
}

func (r *memoryFileRepository) ExistsByHashAndFilename(ctx context.Context, sha256, filename string) (bool, error) {
	rec, err := r.FindByHashAndFilename(sha256, filename)
	return rec != nil, err
}

func newTestService(t *testing.T) (AnalysisService, *memoryFileRepository) {
	t.Helper()
	engine := testEngine()
	client := coderec.NewClient(false, "")
	extractor := pipeline.NewExtractor(engine, client)
	comparison := NewComparisonService(engine, testSimilarityConfig(t))
	repo := newMemoryRepo()
	return NewAnalysisService(repo, extractor, comparison, client), repo
}

func TestAnalyzeFirstUploadPersists(t *testing.T) {
	svc, repo := newTestService(t)
	raw := testutil.BuildElf64([]byte("variant-1"))

	results, err := svc.Analyze(context.Background(), "busybox-a", raw)
	require.NoError(t, err)
	assert.Empty(t, results) // 目录快照为空

	stored, err := repo.FindAll()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].ParsingSuccessful)
	assert.Len(t, stored[0].Sha256, 64)

	// 必备表示齐全
	for _, typ := range []model.RepresentationType{
		model.StringMinhash, model.CodeRegionList, model.ProgramHeaderVector,
		model.ElfHeaderVector, model.SectionSizeVector,
	} {
		_, ok := stored[0].FindRepresentationByType(typ)
		assert.True(t, ok, "missing %s", typ)
	}
}

func TestAnalyzeComparesAgainstSnapshot(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Analyze(context.Background(), "busybox-a", testutil.BuildElf64([]byte("variant-1")))
	require.NoError(t, err)

	results, err := svc.Analyze(context.Background(), "busybox-b", testutil.BuildElf64([]byte("variant-2")))
	require.NoError(t, err)
	require.Len(t, results, 1)

	cmp := results[0]
	assert.Equal(t, "busybox-a", cmp.FileName)
	assert.Equal(t, "busybox-b", cmp.SecondFileName)
	assert.GreaterOrEqual(t, cmp.SimilarityScore, 0.0)
	assert.LessOrEqual(t, cmp.SimilarityScore, 1.0)
	// 相同构造的 ELF 头部与节布局相近，评分应当偏高
	assert.Greater(t, cmp.SimilarityScore, 0.5)
}

func TestAnalyzeSameContentTwiceDoesNotDuplicate(t *testing.T) {
	svc, repo := newTestService(t)
	raw := testutil.BuildElf64([]byte("same"))

	_, err := svc.Analyze(context.Background(), "a.bin", raw)
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), "a.bin", raw)
	require.NoError(t, err)

	stored, _ := repo.FindAll()
	assert.Len(t, stored, 1)

	// 相同内容、不同文件名则是新记录（宽松唯一性：键为 (sha256, filename)）
	_, err = svc.Analyze(context.Background(), "b.bin", raw)
	require.NoError(t, err)
	stored, _ = repo.FindAll()
	assert.Len(t, stored, 2)
}

func TestCompareIdenticalContent(t *testing.T) {
	svc, _ := newTestService(t)
	raw := testutil.BuildElf64([]byte("payload"))

	cmp, err := svc.Compare(context.Background(), "a.bin", raw, "b.bin", raw)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cmp.SimilarityScore)
	assert.Equal(t, model.RatingHigh, cmp.SimilarityRating)
	assert.Empty(t, cmp.ComparisonDetails)
}

func TestCompareMissingFilename(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Compare(context.Background(), "", []byte("x"), "b.bin", []byte("y"))
	assert.Error(t, err)
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestImportZipArchive(t *testing.T) {
	svc, repo := newTestService(t)

	archive := buildZip(t, map[string][]byte{
		"bin/busybox-x86": testutil.BuildElf64([]byte("x86")),
		"bin/busybox-arm": testutil.BuildElf64([]byte("arm")),
	})

	require.NoError(t, svc.ImportZipArchive(context.Background(), archive, nil))

	stored, _ := repo.FindAll()
	assert.Len(t, stored, 2)
}

func TestImportZipArchiveIdempotentOnHash(t *testing.T) {
	svc, repo := newTestService(t)

	archive := buildZip(t, map[string][]byte{
		"busybox": testutil.BuildElf64([]byte("once")),
	})

	require.NoError(t, svc.ImportZipArchive(context.Background(), archive, nil))
	require.NoError(t, svc.ImportZipArchive(context.Background(), archive, nil))

	stored, _ := repo.FindAll()
	assert.Len(t, stored, 1)
}

func TestImportZipArchiveDuplicateContentWithinArchive(t *testing.T) {
	svc, repo := newTestService(t)

	// 两个条目内容（哈希）相同：扇出前按哈希折叠，只入库一行
	same := testutil.BuildElf64([]byte("twin"))
	archive := buildZip(t, map[string][]byte{
		"bin/busybox-a": same,
		"bin/busybox-b": same,
		"bin/other":     testutil.BuildElf64([]byte("other")),
	})

	require.NoError(t, svc.ImportZipArchive(context.Background(), archive, nil))

	stored, _ := repo.FindAll()
	assert.Len(t, stored, 2)
}

func TestImportZipArchiveBadEntryDoesNotAbort(t *testing.T) {
	svc, repo := newTestService(t)

	// 非 ELF 条目解析失败但仍应以降级表示入库；其余条目不受影响
	archive := buildZip(t, map[string][]byte{
		"good.bin":    testutil.BuildElf64([]byte("good")),
		"garbage.txt": []byte("this is not an elf at all"),
	})

	require.NoError(t, svc.ImportZipArchive(context.Background(), archive, nil))

	stored, _ := repo.FindAll()
	assert.Len(t, stored, 2)
	for _, rec := range stored {
		if rec.Filename == "garbage.txt" {
			assert.False(t, rec.ParsingSuccessful)
			_, ok := rec.FindRepresentationByType(model.ElfHeaderVector)
			assert.False(t, ok)
		}
	}
}

func TestImportZipArchiveInvalidArchive(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.ImportZipArchive(context.Background(), []byte("not a zip"), nil)
	assert.Error(t, err)
}

func TestAnalyzeCancelledContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Analyze(ctx, "a.bin", testutil.BuildElf64(nil))
	assert.Error(t, err)
}
