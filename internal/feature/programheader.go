// Package feature 从程序头表构建摘要特征向量。
package feature

import (
	"math"
	"sort"
	"strings"

	"binsim-go/internal/model"
)

// BuildProgramHeaderVector 从程序头列表构建 9 维摘要向量：
//
//	[0] 段数量
//	[1] mem_size 均值
//	[2] mem_size 总体标准差
//	[3..5] mem_size 的 25/50/75 分位（最近秩 round(q*(n-1))）
//	[6] 标志含 'E' 的段占比
//	[7] 标志含 'W' 的段占比
//	[8] 文件大小合计 / 内存大小合计（内存合计为 0 时取 0）
//
// 空列表返回零长度向量。
func BuildProgramHeaderVector(headers []model.ProgramHeader) []float64 {
	if len(headers) == 0 {
		return []float64{}
	}

	n := len(headers)
	var totalMem, totalFile uint64
	for _, h := range headers {
		totalMem += h.MemSize
		totalFile += h.FileSize
	}

	avg := float64(totalMem) / float64(n)
	var sumSq float64
	for _, h := range headers {
		d := float64(h.MemSize) - avg
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(n))

	sizes := make([]uint64, n)
	for i, h := range headers {
		sizes[i] = h.MemSize
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	percentile := func(q float64) float64 {
		idx := int(math.Round(q * float64(n-1)))
		if idx < 0 {
			idx = 0
		}
		return float64(sizes[idx])
	}

	fracExec := flagFraction(headers, 'E')
	fracWrite := flagFraction(headers, 'W')

	ratio := 0.0
	if totalMem > 0 {
		ratio = float64(totalFile) / float64(totalMem)
	}

	return []float64{
		float64(n),
		avg,
		std,
		percentile(0.25),
		percentile(0.50),
		percentile(0.75),
		fracExec,
		fracWrite,
		ratio,
	}
}

func flagFraction(headers []model.ProgramHeader, flag rune) float64 {
	count := 0
	for _, h := range headers {
		if strings.ContainsRune(h.Flags, flag) {
			count++
		}
	}
	return float64(count) / float64(len(headers))
}
