// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"binsim-go/internal/apperr"
	"binsim-go/internal/model"
	"binsim-go/internal/service"
	"binsim-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FileHandler 负责处理所有与文件分析相关的 API 请求。
type FileHandler struct {
	analysisService service.AnalysisService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(analysisService service.AnalysisService) *FileHandler {
	return &FileHandler{analysisService: analysisService}
}

// UploadAndCompare 处理上传并全库比较的请求。
// 可选查询参数 minScore、maxScore、rating 过滤返回列表；
// rating 不在 {high, medium, low} 内时视为不过滤。
func (h *FileHandler) UploadAndCompare(c *gin.Context) {
	filename, raw, err := readUpload(c, "file")
	if err != nil {
		respondError(c, err)
		return
	}

	results, err := h.analysisService.Analyze(c.Request.Context(), filename, raw)
	if err != nil {
		log.Error("UploadAndCompare: 分析失败", err)
		respondError(c, err)
		return
	}

	minScore, hasMin := parseScore(c.Query("minScore"))
	maxScore, hasMax := parseScore(c.Query("maxScore"))
	rating := normalizeRating(c.Query("rating"))

	filtered := make([]model.FileComparison, 0, len(results))
	for _, r := range results {
		if hasMin && r.SimilarityScore < minScore {
			continue
		}
		if hasMax && r.SimilarityScore > maxScore {
			continue
		}
		if rating != "" && !strings.EqualFold(r.SimilarityRating, rating) {
			continue
		}
		filtered = append(filtered, r)
	}

	c.JSON(http.StatusOK, filtered)
}

// CompareFiles 处理两个上传文件的直接比较请求。
func (h *FileHandler) CompareFiles(c *gin.Context) {
	name1, raw1, err := readUpload(c, "file1")
	if err != nil {
		respondError(c, err)
		return
	}
	name2, raw2, err := readUpload(c, "file2")
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.analysisService.Compare(c.Request.Context(), name1, raw1, name2, raw2)
	if err != nil {
		log.Error("CompareFiles: 比较失败", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UploadZipArchive 处理 ZIP 归档批量导入请求，成功时返回 204。
func (h *FileHandler) UploadZipArchive(c *gin.Context) {
	_, raw, err := readUpload(c, "file")
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.analysisService.ImportZipArchive(c.Request.Context(), raw, nil); err != nil {
		log.Error("UploadZipArchive: 导入失败", err)
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// readUpload 读取指定表单字段的上传文件，返回原始文件名与内容。
func readUpload(c *gin.Context, field string) (string, []byte, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return "", nil, apperr.ErrMissingFilename
	}
	if fileHeader.Filename == "" {
		return "", nil, apperr.ErrMissingFilename
	}

	var f multipart.File
	f, err = fileHeader.Open()
	if err != nil {
		return "", nil, apperr.ErrIoFailure
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return "", nil, apperr.ErrIoFailure
	}
	return fileHeader.Filename, raw, nil
}

// respondError 把处理错误映射为 400（消息作为响应体），其余映射为 500。
func respondError(c *gin.Context, err error) {
	if apperr.IsProcessingError(err) {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	c.String(http.StatusInternalServerError, "服务器内部错误")
}

// parseScore 解析可选的评分过滤参数；非法值视为未提供。
func parseScore(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normalizeRating 校验 rating 过滤参数；不在闭集内时返回空（不过滤）。
func normalizeRating(s string) string {
	switch strings.ToLower(s) {
	case model.RatingHigh, model.RatingMedium, model.RatingLow:
		return strings.ToLower(s)
	default:
		return ""
	}
}
