package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tvstream/internal/telemetry"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newMigrator(t *testing.T) (*Migrator, *gorm.DB) {
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	return m, db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.NotEmpty(t, migrations)
	for i, mig := range migrations {
		assert.NotEmpty(t, mig.Description)
		assert.NotNil(t, mig.Up)
		assert.NotNil(t, mig.Down, "migration %s should be reversible", mig.Version)
		if i > 0 {
			assert.Less(t, migrations[i-1].Version, mig.Version)
		}
	}
}

func TestMigrator_Up(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	assert.True(t, db.Migrator().HasTable(&telemetry.ClientEvent{}))
	assert.True(t, db.Migrator().HasIndex(&telemetry.ClientEvent{}, "idx_client_events_session_init"))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, len(AllMigrations()))
	for _, st := range status {
		assert.True(t, st.Applied, st.Version)
		assert.NotNil(t, st.AppliedAt)
	}

	// Re-running applies nothing.
	require.NoError(t, m.Up(ctx))
	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_Down(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasIndex(&telemetry.ClientEvent{}, "idx_client_events_session_init"))
	assert.True(t, db.Migrator().HasTable(&telemetry.ClientEvent{}))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "002", pending[0].Version)

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable(&telemetry.ClientEvent{}))

	// Nothing left to roll back.
	require.NoError(t, m.Down(ctx))
}

func TestMigrator_UpRollsBackFailedMigration(t *testing.T) {
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll([]Migration{{
		Version:     "001",
		Description: "broken",
		Up:          func(tx *gorm.DB) error { return tx.Exec("CREATE TABLE oops (").Error },
	}})

	err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applying migration 001")

	pending, err := m.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMigrator_DownWithoutDefinition(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	other := NewMigrator(db, nil)
	err := other.Down(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "definition not found")
}
