// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"time"

	"binsim-go/internal/model"
	"binsim-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// FileRepository 接口定义了文件目录的持久化操作。
type FileRepository interface {
	// FindByHash 返回具有相同内容哈希的全部记录（同一哈希可对应多个文件名）。
	FindByHash(sha256 string) ([]model.FileRecord, error)
	// FindByHashAndFilename 按 (哈希, 文件名) 查找唯一记录，不存在时返回 (nil, nil)。
	FindByHashAndFilename(sha256, filename string) (*model.FileRecord, error)
	// FindAll 返回全部记录及其表示。
	FindAll() ([]model.FileRecord, error)
	// Save 在单个事务内持久化记录与其全部表示。
	Save(record *model.FileRecord) error
	// ExistsByHashAndFilename 判断 (哈希, 文件名) 是否已入库，优先走 Redis 缓存。
	ExistsByHashAndFilename(ctx context.Context, sha256, filename string) (bool, error)
}

// fileRepository 是 FileRepository 接口的 GORM+Redis 实现。
type fileRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewFileRepository 创建一个新的 FileRepository 实例。redisClient 可以为 nil。
func NewFileRepository(db *gorm.DB, redisClient *redis.Client) FileRepository {
	return &fileRepository{db: db, redisClient: redisClient}
}

const existsCacheTTL = 24 * time.Hour

// getExistsKey 生成存在性缓存的 Redis 键。
func (r *fileRepository) getExistsKey(sha256, filename string) string {
	return "file:exists:" + sha256 + ":" + filename
}

// FindByHash 按内容哈希检索全部文件记录。
func (r *fileRepository) FindByHash(sha256 string) ([]model.FileRecord, error) {
	var records []model.FileRecord
	err := r.db.Preload("Representations").Where("sha256 = ?", sha256).Find(&records).Error
	return records, err
}

// FindByHashAndFilename 按 (哈希, 文件名) 检索唯一记录。
func (r *fileRepository) FindByHashAndFilename(sha256, filename string) (*model.FileRecord, error) {
	var record model.FileRecord
	err := r.db.Preload("Representations").
		Where("sha256 = ? AND filename = ?", sha256, filename).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindAll 返回目录快照，表示随记录一并加载。
func (r *fileRepository) FindAll() ([]model.FileRecord, error) {
	var records []model.FileRecord
	err := r.db.Preload("Representations").Find(&records).Error
	return records, err
}

// Save 在一个事务内写入记录及其表示，并回填存在性缓存。
func (r *fileRepository) Save(record *model.FileRecord) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err != nil {
		return err
	}

	if r.redisClient != nil {
		key := r.getExistsKey(record.Sha256, record.Filename)
		if err := r.redisClient.Set(context.Background(), key, 1, existsCacheTTL).Err(); err != nil {
			log.Warnf("写入存在性缓存失败 (key=%s): %v", key, err)
		}
	}
	return nil
}

// ExistsByHashAndFilename 先查 Redis 缓存，未命中时回退数据库并回填缓存。
func (r *fileRepository) ExistsByHashAndFilename(ctx context.Context, sha256, filename string) (bool, error) {
	if r.redisClient != nil {
		key := r.getExistsKey(sha256, filename)
		val, err := r.redisClient.Exists(ctx, key).Result()
		if err == nil && val > 0 {
			return true, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Warnf("读取存在性缓存失败 (key=%s): %v", key, err)
		}
	}

	var count int64
	if err := r.db.Model(&model.FileRecord{}).
		Where("sha256 = ? AND filename = ?", sha256, filename).
		Count(&count).Error; err != nil {
		return false, err
	}
	exists := count > 0

	if exists && r.redisClient != nil {
		key := r.getExistsKey(sha256, filename)
		if err := r.redisClient.Set(ctx, key, 1, existsCacheTTL).Err(); err != nil {
			log.Warnf("回填存在性缓存失败 (key=%s): %v", key, err)
		}
	}
	return exists, nil
}
