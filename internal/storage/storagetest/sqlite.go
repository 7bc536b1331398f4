// Package storagetest opens throwaway SQLite-backed repositories for tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
)

// NewSQLiteRepo returns a migrated repository over a private in-memory
// database. The single connection keeps every statement on the same database.
func NewSQLiteRepo(t testing.TB) (*storage.PostgresRepo, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=off", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := storage.NewRepoFromDB(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo, db
}
