package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tvstream/internal/wire"
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
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&ClientEvent{}))
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(session, channel, name string, at time.Time) *ClientEvent {
	return &ClientEvent{
		SessionID:   session,
		InitID:      1,
		Channel:     channel,
		Kind:        wire.TypeClientInfo,
		Event:       name,
		VideoBuffer: 4,
		AudioBuffer: 2,
		CreatedAt:   at,
	}
}

func TestRepository_CreateAssignsULID(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	ev := event("s1", "demo", wire.EventStartup, time.Now())
	require.NoError(t, repo.Create(ctx, ev))
	assert.False(t, ev.ID.IsZero())

	assert.Error(t, repo.Create(ctx, &ClientEvent{Channel: "demo"}), "kind is required")
}

func TestRepository_Summary(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.CreateBatch(ctx, []*ClientEvent{
		event("s1", "demo", wire.EventStartup, now),
		event("s1", "demo", wire.EventRebuffer, now),
		event("s1", "demo", wire.EventPlay, now),
		event("s2", "demo", wire.EventStartup, now),
		event("s3", "news", wire.EventTimer, now),
		event("s4", "news", wire.EventStartup, now.Add(-2*time.Hour)),
	}))

	summary, err := repo.Summary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(5), summary.Events)
	assert.Equal(t, int64(3), summary.Sessions)
	assert.Equal(t, int64(2), summary.Startups)
	assert.Equal(t, int64(1), summary.Rebuffers)
	require.Len(t, summary.Channels, 2)

	demo := summary.Channels[0]
	assert.Equal(t, "demo", demo.Channel)
	assert.Equal(t, int64(4), demo.Events)
	assert.Equal(t, int64(2), demo.Sessions)
	assert.InDelta(t, 4.0, demo.AvgVideoBuffer, 1e-9)
	assert.InDelta(t, 2.0, demo.AvgAudioBuffer, 1e-9)

	assert.Equal(t, "news", summary.Channels[1].Channel)
	assert.Equal(t, int64(1), summary.Channels[1].Events)
}

func TestRepository_DeleteOlderThan(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.CreateBatch(ctx, []*ClientEvent{
		event("s1", "demo", wire.EventTimer, now.Add(-48*time.Hour)),
		event("s1", "demo", wire.EventTimer, now.Add(-25*time.Hour)),
		event("s1", "demo", wire.EventTimer, now),
	}))

	n, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	summary, err := repo.Summary(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Events)
}

func TestRecorder_WritesAndFlushesOnStop(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	rec := NewRecorder(repo, RecorderConfig{QueueSize: 16, BatchSize: 4, FlushInterval: time.Hour}, discardLogger())

	for range 6 {
		require.True(t, rec.Record(*event("s1", "demo", wire.EventTimer, time.Time{})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.Written() >= 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int64(6), rec.Written())

	summary, err := repo.Summary(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), summary.Events)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	dropped := 0
	rec := NewRecorder(NewRepository(setupTestDB(t)), RecorderConfig{QueueSize: 2}, discardLogger(),
		WithDropHook(func() { dropped++ }))

	assert.True(t, rec.Record(ClientEvent{Kind: wire.TypeClientInfo}))
	assert.True(t, rec.Record(ClientEvent{Kind: wire.TypeClientInfo}))
	assert.False(t, rec.Record(ClientEvent{Kind: wire.TypeClientInfo}))
	assert.Equal(t, int64(1), rec.Dropped())
	assert.Equal(t, 1, dropped)
}

func TestPruner(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.CreateBatch(ctx, []*ClientEvent{
		event("s1", "demo", wire.EventTimer, now.Add(-4*time.Hour)),
		event("s1", "demo", wire.EventTimer, now),
	}))

	p, err := NewPruner(repo, "0 * * * *", 3*time.Hour, discardLogger())
	require.NoError(t, err)

	n, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	base := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), p.Next(base))

	require.NoError(t, p.Start(ctx))
	assert.Error(t, p.Start(ctx), "second start fails")
	p.Stop()
}

func TestNewPruner_Invalid(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := NewPruner(repo, "not a cron", time.Hour, discardLogger())
	assert.Error(t, err)

	_, err = NewPruner(repo, "0 * * * *", 0, discardLogger())
	assert.Error(t, err)
}
