package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/pkg/pg"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

var phoneSeq atomic.Int64

func setupTestDB(t *testing.T) *pg.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return pg.Wrap(db)
}

func ptr[T any](v T) *T {
	return &v
}

// seedPhones inserts n records; mutate may set rotation state on each one.
func seedPhones(t *testing.T, repo *repository.PhoneRepository, n int, mutate func(i int, rec *model.PhoneRecord)) []*model.PhoneRecord {
	out := make([]*model.PhoneRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := &model.PhoneRecord{
			Owner:   fmt.Sprintf("Owner %d", i),
			Address: fmt.Sprintf("Calle %d", i),
			Number:  fmt.Sprintf("555%07d", phoneSeq.Add(1)),
		}
		if mutate != nil {
			mutate(i, rec)
		}
		created, err := repo.Create(context.Background(), rec)
		require.NoError(t, err)
		out = append(out, created)
	}
	return out
}
