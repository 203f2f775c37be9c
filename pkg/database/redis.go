package database

import (
	"context"
	"time"

	"binsim-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 连接
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		// Redis 仅作为存在性缓存，连接失败时降级为纯数据库查询
		log.Warnf("Redis 连接失败，存在性缓存将被禁用: %v", err)
		RDB = nil
		return
	}

	log.Info("Redis connected successfully")
}
