// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binsim-go/internal/config"
	"binsim-go/internal/handler"
	"binsim-go/internal/middleware"
	"binsim-go/internal/model"
	"binsim-go/internal/pipeline"
	"binsim-go/internal/repository"
	"binsim-go/internal/service"
	"binsim-go/pkg/coderec"
	"binsim-go/pkg/database"
	"binsim-go/pkg/log"
	"binsim-go/pkg/minhash"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库与 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.FileRecord{}, &model.Representation{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}

	// 4. 初始化 MinHash 单例（部署参数在启动时固定）
	minhash.Init(cfg.MinHash.SignatureLength, cfg.MinHash.DictSize, cfg.MinHash.Seed)
	log.Infof("MinHash 引擎就绪: L=%d, D=%d, seed=%d",
		cfg.MinHash.SignatureLength, cfg.MinHash.DictSize, cfg.MinHash.Seed)

	// 5. 初始化分类器客户端与提取管道
	coderecClient := coderec.NewClient(cfg.Coderec.Enabled, cfg.Coderec.Location)
	if !coderecClient.Enabled() {
		log.Info("coderec 分类器已禁用，所有文件的区域列表为空")
	}
	extractor := pipeline.NewExtractor(minhash.Get(), coderecClient)

	// 6. 初始化 Repository 与 Service（依赖注入）
	fileRepo := repository.NewFileRepository(database.DB, database.RDB)
	comparisonService := service.NewComparisonService(minhash.Get(), cfg.Similarity)
	analysisService := service.NewAnalysisService(fileRepo, extractor, comparisonService, coderecClient)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.MaxMultipartMemory = cfg.Upload.MaxSizeMB << 20

	// 8. 注册路由
	fileHandler := handler.NewFileHandler(analysisService)
	api := r.Group("/api")
	{
		api.POST("", fileHandler.UploadAndCompare)
		api.POST("/compare", fileHandler.CompareFiles)
		api.POST("/upload-zip", fileHandler.UploadZipArchive)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
