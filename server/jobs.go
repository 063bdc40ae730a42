package server

import (
	"path"

	"github.com/Daskott/kontacts/server/models"
	"github.com/Daskott/kontacts/server/storage"
	"github.com/Daskott/kontacts/shared"
	"github.com/Daskott/kontacts/utils"
	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const BACKUP_SQLITE_DB_TAG = "backupSqliteDb"

// fileStore is the part of the object store the sqlite backup needs
type fileStore interface {
	UploadFile(bucket, object, filePath string) error
	DownloadFile(bucket, object, destFileName string) error
}

func backupEnabled(config *shared.ServerConfig) bool {
	return config.Database.Driver == "sqlite" && config.Google.Storage.EnableSqliteBackupAndSync
}

func backupObjectName(config *shared.ServerConfig) string {
	return path.Join(config.Google.Storage.Prefix, models.DB_NAME)
}

// restoreSqliteDb pulls the last backup down when there's no local db yet
func restoreSqliteDb(store fileStore, config *shared.ServerConfig) error {
	dbPath, err := models.SqliteDBPath(config.Database.Sqlite.Dir)
	if err != nil {
		return err
	}

	exists, err := utils.FileExist(dbPath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = store.DownloadFile(config.Google.Storage.Bucket, backupObjectName(config), dbPath)
	if errors.Is(err, storage.ErrObjectNotExist) {
		logg.Info("No sqlite backup found, starting with an empty db")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "restoreSqliteDb")
	}

	logg.Infof("Restored sqlite db from gs://%v/%v", config.Google.Storage.Bucket, backupObjectName(config))
	return nil
}

// backupSqliteDb flushes the WAL into the db file & uploads it
func backupSqliteDb(db *gorm.DB, store fileStore, config *shared.ServerConfig) error {
	if err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return errors.Wrap(err, "backupSqliteDb")
	}

	dbPath, err := models.SqliteDBPath(config.Database.Sqlite.Dir)
	if err != nil {
		return err
	}

	err = store.UploadFile(config.Google.Storage.Bucket, backupObjectName(config), dbPath)
	if err != nil {
		return errors.Wrap(err, "backupSqliteDb")
	}

	logg.Infof("Backed up sqlite db to gs://%v/%v", config.Google.Storage.Bucket, backupObjectName(config))
	return nil
}

func scheduleSqliteBackup(scheduler *gocron.Scheduler, db *gorm.DB, store fileStore, config *shared.ServerConfig) error {
	_, err := scheduler.Cron(config.Google.Storage.SqliteBackupSchedule).Tag(BACKUP_SQLITE_DB_TAG).Do(func() {
		if err := backupSqliteDb(db, store, config); err != nil {
			logg.Error(err)
		}
	})
	return err
}
