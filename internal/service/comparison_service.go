// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"binsim-go/internal/apperr"
	"binsim-go/internal/config"
	"binsim-go/internal/model"
	"binsim-go/pkg/bytecodec"
	"binsim-go/pkg/coderec"
	"binsim-go/pkg/minhash"
)

// ComparisonService 计算两个文件记录的加权相似度。
type ComparisonService struct {
	engine *minhash.Engine
	simCfg config.SimilarityConfig
}

// NewComparisonService 创建一个新的 ComparisonService 实例。
// 权重表与阈值来自部署配置，可按部署覆盖。
func NewComparisonService(engine *minhash.Engine, simCfg config.SimilarityConfig) *ComparisonService {
	return &ComparisonService{engine: engine, simCfg: simCfg}
}

// CompareFiles 比较参考文件（上传侧）与目标文件（入库侧），产出比较记录。
//
// 内容哈希相同时直接短路：评分 1、等级 HIGH、不计算各轴明细。
// 两侧都解析成功时使用完整权重表，否则使用降级权重表。
func (s *ComparisonService) CompareFiles(ctx context.Context, reference, target *model.FileRecord) (*model.FileComparison, error) {
	result := &model.FileComparison{
		FileName:       target.Filename,
		SecondFileName: reference.Filename,
	}

	if reference.Sha256 == target.Sha256 {
		result.SetSimilarityScore(1, s.simCfg.HighThreshold, s.simCfg.LowThreshold)
		return result, nil
	}

	bothParsed := reference.ParsingSuccessful && target.ParsingSuccessful
	details := make(map[model.RepresentationType]float64)

	if bothParsed {
		headerSim, err := s.vectorCosineSim(reference, target, model.ElfHeaderVector)
		if err != nil {
			return nil, err
		}
		details[model.ElfHeaderVector] = headerSim

		sectionSim, err := s.vectorCosineSim(reference, target, model.SectionSizeVector)
		if err != nil {
			return nil, err
		}
		details[model.SectionSizeVector] = sectionSim
	}

	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	stringSim, err := s.stringSim(reference, target)
	if err != nil {
		return nil, err
	}
	details[model.StringMinhash] = stringSim

	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	regionsA, err := regionsOf(reference)
	if err != nil {
		return nil, err
	}
	regionsB, err := regionsOf(target)
	if err != nil {
		return nil, err
	}
	if len(regionsA) > 0 && len(regionsB) > 0 {
		details[model.CodeRegionList] = intervalJaccard(regionsA, regionsB)
		details[model.RegionCountSim] = regionCountSimilarity(regionsA, regionsB)
		details[model.AvgRegionLengthSim] = avgRegionLengthSimilarity(regionsA, regionsB)
	}

	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	phSim, err := s.programHeaderSim(reference, target)
	if err != nil {
		return nil, err
	}
	details[model.ProgramHeaderVector] = phSim

	weights := s.weightsFor(bothParsed)

	var score float64
	for axis, sim := range details {
		score += weights[axis] * sim
	}

	result.ComparisonDetails = details
	result.Weights = weights
	result.SetSimilarityScore(score, s.simCfg.HighThreshold, s.simCfg.LowThreshold)
	return result, nil
}

// weightsFor 按解析状态选择权重表。
func (s *ComparisonService) weightsFor(bothParsed bool) map[model.RepresentationType]float64 {
	src := s.simCfg.FallbackWeights
	if bothParsed {
		src = s.simCfg.FullWeights
	}
	out := make(map[model.RepresentationType]float64, len(src))
	for k, v := range src {
		out[model.RepresentationType(k)] = v
	}
	return out
}

// vectorCosineSim 解包两侧同类型的 double 向量并计算余弦相似度。
func (s *ComparisonService) vectorCosineSim(reference, target *model.FileRecord, t model.RepresentationType) (float64, error) {
	a, err := unpackedDoubles(reference, t)
	if err != nil {
		return 0, err
	}
	b, err := unpackedDoubles(target, t)
	if err != nil {
		return 0, err
	}
	return cosineSimilarity(a, b)
}

// stringSim 估计两侧字符串 MinHash 签名的 Jaccard 相似度。
func (s *ComparisonService) stringSim(reference, target *model.FileRecord) (float64, error) {
	a, err := representationOf(reference, model.StringMinhash)
	if err != nil {
		return 0, err
	}
	b, err := representationOf(target, model.StringMinhash)
	if err != nil {
		return 0, err
	}
	sigA, err := bytecodec.UnpackInt32s(a)
	if err != nil {
		return 0, err
	}
	sigB, err := bytecodec.UnpackInt32s(b)
	if err != nil {
		return 0, err
	}
	return s.engine.Similarity(sigA, sigB)
}

// programHeaderSim 对程序头向量做逐轴最大值归一化后计算余弦相似度。
// 任一侧为空向量时返回 0。
func (s *ComparisonService) programHeaderSim(reference, target *model.FileRecord) (float64, error) {
	a, err := unpackedDoubles(reference, model.ProgramHeaderVector)
	if err != nil {
		return 0, err
	}
	b, err := unpackedDoubles(target, model.ProgramHeaderVector)
	if err != nil {
		return 0, err
	}
	return programHeaderSimilarity(a, b)
}

// programHeaderSimilarity 实现 9 维程序头向量的归一化余弦。
// 前 7 个维度按两侧最大值归一；下标 7、8 已是比例，保持原值。
func programHeaderSimilarity(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	na := append([]float64(nil), a...)
	nb := append([]float64(nil), b...)
	for i := 0; i <= 6 && i < len(na) && i < len(nb); i++ {
		max := math.Max(na[i], nb[i])
		if max > 0 {
			na[i] /= max
			nb[i] /= max
		}
	}
	return cosineSimilarity(na, nb)
}

// cosineSimilarity 计算 a·b / (‖a‖·‖b‖)。
// 长度不一致或为零长度时返回 ErrInvalidArgument；任一范数为 0 时返回 0。
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: 向量长度不一致 (%d vs %d)", apperr.ErrInvalidArgument, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: 向量为空", apperr.ErrInvalidArgument)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// interval 是合并后的一段左闭右开字节区间。
type interval struct {
	start, end uint64
}

// mergeAndNormalize 按起点排序并把重叠或相邻的区域合并为互不相交的区间。
func mergeAndNormalize(regions []coderec.CodeRegion) []interval {
	ivs := make([]interval, len(regions))
	for i, r := range regions {
		ivs[i] = interval{start: r.Start, end: r.End}
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].start < ivs[j].start })

	out := ivs[:0]
	for _, iv := range ivs {
		if len(out) == 0 || out[len(out)-1].end < iv.start {
			out = append(out, iv)
			continue
		}
		last := &out[len(out)-1]
		if iv.end > last.end {
			last.end = iv.end
		}
	}
	return out
}

// intervalJaccard 计算两组区域合并后的区间 Jaccard：
// 双指针扫描求交集长度，uni = sumA + sumB - inter；uni 为 0 时取 1。
func intervalJaccard(a, b []coderec.CodeRegion) float64 {
	ia := mergeAndNormalize(a)
	ib := mergeAndNormalize(b)

	var inter uint64
	i, j := 0, 0
	for i < len(ia) && j < len(ib) {
		lo := ia[i].start
		if ib[j].start > lo {
			lo = ib[j].start
		}
		hi := ia[i].end
		if ib[j].end < hi {
			hi = ib[j].end
		}
		if lo < hi {
			inter += hi - lo
		}
		if ia[i].end < ib[j].end {
			i++
		} else {
			j++
		}
	}

	var sumA, sumB uint64
	for _, iv := range ia {
		sumA += iv.end - iv.start
	}
	for _, iv := range ib {
		sumB += iv.end - iv.start
	}
	uni := sumA + sumB - inter
	if uni == 0 {
		return 1
	}
	return float64(inter) / float64(uni)
}

// regionCountSimilarity 按区域数量计算相似度：1 - |nA-nB| / max(nA,nB)。
// 两侧都为空取 1，只有一侧为空取 0。
func regionCountSimilarity(a, b []coderec.CodeRegion) float64 {
	na, nb := len(a), len(b)
	if na == 0 && nb == 0 {
		return 1
	}
	if na == 0 || nb == 0 {
		return 0
	}
	diff := na - nb
	if diff < 0 {
		diff = -diff
	}
	max := na
	if nb > max {
		max = nb
	}
	return 1 - float64(diff)/float64(max)
}

// avgRegionLengthSimilarity 按平均区域长度计算相似度：min(avg)/max(avg)。
// 两侧平均值都为 0 取 1，只有一侧为 0 取 0。
func avgRegionLengthSimilarity(a, b []coderec.CodeRegion) float64 {
	avgA := avgLength(a)
	avgB := avgLength(b)
	if avgA == 0 && avgB == 0 {
		return 1
	}
	if avgA == 0 || avgB == 0 {
		return 0
	}
	return math.Min(avgA, avgB) / math.Max(avgA, avgB)
}

func avgLength(regions []coderec.CodeRegion) float64 {
	if len(regions) == 0 {
		return 0
	}
	var sum uint64
	for _, r := range regions {
		sum += r.Length
	}
	return float64(sum) / float64(len(regions))
}

// regionsOf 反序列化记录的区域列表表示。
func regionsOf(record *model.FileRecord) ([]coderec.CodeRegion, error) {
	data, err := representationOf(record, model.CodeRegionList)
	if err != nil {
		return nil, err
	}
	return coderec.DeserializeRegions(data)
}

// representationOf 取出必需的表示，缺失时返回 ErrNotFound。
func representationOf(record *model.FileRecord, t model.RepresentationType) ([]byte, error) {
	rep, ok := record.FindRepresentationByType(t)
	if !ok {
		return nil, fmt.Errorf("%w: 文件 %s 缺少表示 %s", apperr.ErrNotFound, record.Filename, t)
	}
	return rep.Data, nil
}

func unpackedDoubles(record *model.FileRecord, t model.RepresentationType) ([]float64, error) {
	data, err := representationOf(record, t)
	if err != nil {
		return nil, err
	}
	return bytecodec.UnpackDoubles(data)
}

// checkCtx 把取消与超时映射到应用错误分类。
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return apperr.ErrDeadlineExceeded
		}
		return err
	}
	return nil
}
