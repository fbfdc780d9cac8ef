// Package telemetry persists client playback telemetry reported to the
// media server and summarizes it for the HTTP API.
package telemetry

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a wrapper around ulid.ULID for database storage as primary key.
type ULID ulid.ULID

// NewULID generates a new ULID.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// String returns the string representation of the ULID.
func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero returns true if the ULID is zero/empty.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer for database storage.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return ulid.ULID(u).String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (u ULID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// GormDataType returns the GORM data type for ULID.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// ClientEvent is one client message received by the media server: a
// client-init, a client-info event or a chunk acknowledgement.
type ClientEvent struct {
	ID          ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	SessionID   string    `gorm:"size:36;index" json:"session_id"`
	InitID      int       `json:"init_id"`
	Channel     string    `gorm:"size:64;index:idx_client_events_channel_created" json:"channel"`
	Kind        string    `gorm:"size:32" json:"kind"`
	Event       string    `gorm:"size:32" json:"event,omitempty"`
	VideoBuffer float64   `json:"video_buffer"`
	AudioBuffer float64   `json:"audio_buffer"`
	CumRebuffer int64     `json:"cum_rebuffer_ms"`
	Quality     string    `gorm:"size:32" json:"quality,omitempty"`
	Timestamp   uint64    `json:"timestamp,omitempty"`
	SSIM        *float64  `json:"ssim,omitempty"`
	ByteLength  int       `json:"byte_length,omitempty"`
	CreatedAt   time.Time `gorm:"index;index:idx_client_events_channel_created" json:"created_at"`
}

// BeforeCreate generates a ULID if not already set.
func (e *ClientEvent) BeforeCreate(_ *gorm.DB) error {
	if e.ID.IsZero() {
		e.ID = NewULID()
	}
	return nil
}
