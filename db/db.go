package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns the storage handle; the caller (process entry point) owns its lifecycle.
func Open(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	case "mysql":
		dialector = mysql.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		// 历史借用记录在物品/用户删除后仍保留，故不建外键
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             cfg.SlowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite 只有一个写者；单连接让事务串行化
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

// ConnectDB opens and migrates, exiting the process on failure.
func ConnectDB(cfg config.Config) *gorm.DB {
	gdb, err := Open(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	if err := Migrate(gdb); err != nil {
		log.Fatal("Failed to migrate models: ", err)
	}
	log.Println("Database connected")
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&models.User{}, &models.Credential{}, &models.Invite{},
		&models.Category{}, &models.EquipmentItem{},
		&models.LoanRequest{}, &models.Loan{},
		&models.AuditEntry{}, &models.Notification{},
	); err != nil {
		return err
	}

	if gdb.Dialector.Name() == "postgres" {
		// 查询当前借用更快
		if err := gdb.Exec(fmt.Sprintf(`
		  CREATE INDEX IF NOT EXISTS %s_open_item_due
		  ON %s (item_id, due_date)
		  WHERE status IN ('active', 'overdue');
		`, models.LoanTable, models.LoanTable)).Error; err != nil {
			return err
		}
	}
	return nil
}
