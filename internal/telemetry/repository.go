package telemetry

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// Repository defines persistence operations for client events.
type Repository interface {
	// Create stores a single event.
	Create(ctx context.Context, event *ClientEvent) error
	// CreateBatch stores events in batches.
	CreateBatch(ctx context.Context, events []*ClientEvent) error
	// Summary aggregates events created at or after since.
	Summary(ctx context.Context, since time.Time) (*Summary, error)
	// DeleteOlderThan removes events created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChannelSummary aggregates the events of one channel.
type ChannelSummary struct {
	Channel        string  `json:"channel"`
	Events         int64   `json:"events"`
	Sessions       int64   `json:"sessions"`
	Startups       int64   `json:"startups"`
	Rebuffers      int64   `json:"rebuffers"`
	AvgVideoBuffer float64 `json:"avg_video_buffer"`
	AvgAudioBuffer float64 `json:"avg_audio_buffer"`
}

// Summary aggregates events over a time window.
type Summary struct {
	Since     time.Time        `json:"since"`
	Events    int64            `json:"events"`
	Sessions  int64            `json:"sessions"`
	Startups  int64            `json:"startups"`
	Rebuffers int64            `json:"rebuffers"`
	Channels  []ChannelSummary `json:"channels"`
}

const createBatchSize = 100

// repository implements Repository using GORM.
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create stores a single event.
func (r *repository) Create(ctx context.Context, event *ClientEvent) error {
	if event.Kind == "" {
		return fmt.Errorf("client event kind is required")
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateBatch stores events in batches.
func (r *repository) CreateBatch(ctx context.Context, events []*ClientEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(events, createBatchSize).Error
}

// Summary aggregates events created at or after since, per channel.
func (r *repository) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	var channels []ChannelSummary
	err := r.db.WithContext(ctx).
		Model(&ClientEvent{}).
		Select(`channel,
			COUNT(*) AS events,
			COUNT(DISTINCT session_id) AS sessions,
			SUM(CASE WHEN event = ? THEN 1 ELSE 0 END) AS startups,
			SUM(CASE WHEN event = ? THEN 1 ELSE 0 END) AS rebuffers,
			AVG(video_buffer) AS avg_video_buffer,
			AVG(audio_buffer) AS avg_audio_buffer`,
			wire.EventStartup, wire.EventRebuffer).
		Where("created_at >= ?", since).
		Group("channel").
		Order("channel").
		Scan(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("summarizing client events: %w", err)
	}

	summary := &Summary{Since: since, Channels: channels}
	for _, c := range channels {
		summary.Events += c.Events
		summary.Startups += c.Startups
		summary.Rebuffers += c.Rebuffers
	}

	if err := r.db.WithContext(ctx).
		Model(&ClientEvent{}).
		Where("created_at >= ?", since).
		Distinct("session_id").
		Count(&summary.Sessions).Error; err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	return summary, nil
}

// DeleteOlderThan removes events created before cutoff.
func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ClientEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting client events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
