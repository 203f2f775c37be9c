package model

// 相似度等级常量。
const (
	RatingHigh   = "high"
	RatingMedium = "medium"
	RatingLow    = "low"
)

// FileComparison 表示两个文件的一次比较结果。不入库，仅作为 API 载荷。
type FileComparison struct {
	// FileName 是目标文件（入库侧），SecondFileName 是参考文件（上传侧）。
	FileName       string `json:"fileName"`
	SecondFileName string `json:"secondFileName"`

	SimilarityScore  float64 `json:"similarityScore"`
	SimilarityRating string  `json:"similarityRating"`

	// ComparisonDetails 记录每个轴的原始相似度；缺席的轴不出现在表中。
	ComparisonDetails map[RepresentationType]float64 `json:"comparisonDetails,omitempty"`
	// Weights 是本次比较实际使用的权重表。
	Weights map[RepresentationType]float64 `json:"weights,omitempty"`
}

// SetSimilarityScore 设置评分并立即按阈值重算等级。
// 等级是评分的纯函数：score >= high 为 HIGH，score <= low 为 LOW，否则 MEDIUM。
func (c *FileComparison) SetSimilarityScore(score, highThreshold, lowThreshold float64) {
	c.SimilarityScore = score
	switch {
	case score >= highThreshold:
		c.SimilarityRating = RatingHigh
	case score <= lowThreshold:
		c.SimilarityRating = RatingLow
	default:
		c.SimilarityRating = RatingMedium
	}
}
