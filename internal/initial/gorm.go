package initial

import (
	"fmt"
	"log"
	"os"
	"time"

	"VectorLink/internal/config"
	"VectorLink/internal/modules/rag/domain/repository"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var GormDB *gorm.DB

// InitGorm 连接 MySQL 并迁移文档台账表
//
// MySQL 未配置时返回 error，由调用方决定是否退化到内存台账。
func InitGorm() error {
	conf := config.GetConfig()
	if conf.MysqlConfig.Host == "" {
		return fmt.Errorf("mysql host is empty")
	}
	dbName := conf.MysqlConfig.DatabaseName
	if dbName == "" {
		dbName = conf.AppName
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.MysqlConfig.User, conf.MysqlConfig.Password, conf.MysqlConfig.Host, conf.MysqlConfig.Port, dbName)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return err
	}
	// 自动迁移，如果没有建表，会自动创建对应的表
	if err := db.AutoMigrate(&repository.DocumentRecord{}); err != nil {
		return err
	}
	GormDB = db
	return nil
}
