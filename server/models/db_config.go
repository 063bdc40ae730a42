package models

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/Daskott/kontacts/server/logger"
	"github.com/Daskott/kontacts/shared"
	"github.com/Daskott/kontacts/utils"
	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	DB_NAME = "kontacts.db"

	sqliteDriverName = "sqlite3_kontacts"

	// SQLITE_LOWER_FUNC lowercases with Go's unicode rules; sqlite's LOWER only folds ASCII
	SQLITE_LOWER_FUNC = "unicode_lower"
)

var logg = logger.NewLogger()

func init() {
	sql.Register(sqliteDriverName, &sqlcipher.SQLiteDriver{
		ConnectHook: func(conn *sqlcipher.SQLiteConn) error {
			return conn.RegisterFunc(SQLITE_LOWER_FUNC, strings.ToLower, true)
		},
	})
}

// OpenDB connects to the database named by config.Driver
func OpenDB(config shared.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch config.Driver {
	case "postgres":
		dialector = postgres.Open(postgresDSN(config.Postgres))
	case "sqlite":
		dsn, err := sqliteDSN(config.Sqlite.PassPhrase, config.Sqlite.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to set sqlite DSN: %v", err)
		}
		dialector = &sqliteEncrypt.Dialector{DriverName: sqliteDriverName, DSN: dsn}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	return db, nil
}

// AutoMigrate auto-migrates the db schema
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Contact{})
}

// SqliteDBPath returns the path of the sqlite db file, creating its directory if needed
func SqliteDBPath(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return filepath.Join(dbDir, DB_NAME), nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func postgresDSN(config shared.PostgresConfig) string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		config.Host, config.User, config.Password, config.DB, config.Port, sslMode)
}

func sqliteDSN(passPhrase string, dbRootDir string) (string, error) {
	dbFilePath, err := SqliteDBPath(dbRootDir)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"file:%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL",
		dbFilePath,
		passPhrase,
	), nil
}
