// 手动重算所有选课记录的派生进度
//
// 用于进度计算规则调整或批量导入数据之后，只写回有变化的记录。
//
// 用法: go run scripts/recompute_progress.go -config configs/config.yaml -batch 200

package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/config"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/repository"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/service"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/database"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// scriptConfig 只读取脚本需要的配置项
type scriptConfig struct {
	Server struct {
		Mode string `yaml:"mode"`
	} `yaml:"server"`
	Database struct {
		Driver     string `yaml:"driver"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		DBName     string `yaml:"dbname"`
		Charset    string `yaml:"charset"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Enrollment struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"enrollment"`
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	batchSize := flag.Int("batch", 200, "每批处理的选课记录数")
	flag.Parse()

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var sc scriptConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: sc.Server.Mode},
		Database: config.DatabaseConfig{
			Driver:     sc.Database.Driver,
			Host:       sc.Database.Host,
			Port:       sc.Database.Port,
			User:       sc.Database.User,
			Password:   sc.Database.Password,
			DBName:     sc.Database.DBName,
			Charset:    sc.Database.Charset,
			ParseTime:  true,
			SQLitePath: sc.Database.SQLitePath,
		},
		Enrollment: config.EnrollmentConfig{MaxRetries: sc.Enrollment.MaxRetries},
	}
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	enrollments := service.NewEnrollmentService(
		repository.NewEnrollmentRepository(db),
		repository.NewCourseRepository(db),
		nil,
		nil,
		&cfg.Enrollment,
	)

	logger.Log.Info("开始重算选课进度", zap.Int("batch", *batchSize))
	updated, err := enrollments.RecomputeAll(context.Background(), *batchSize)
	if err != nil {
		logger.Log.Fatal("重算失败", zap.Error(err), zap.Int("updated", updated))
	}
	logger.Log.Info("完成", zap.Int("updated", updated))
}
