package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/tvstream/internal/telemetry"
)

// AllMigrations returns every schema migration in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001ClientEvents(),
		migration002SessionIndex(),
	}
}

func migration001ClientEvents() Migration {
	return Migration{
		Version:     "001",
		Description: "Create client_events table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&telemetry.ClientEvent{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&telemetry.ClientEvent{})
		},
	}
}

// migration002SessionIndex speeds up per-session lookups when a summary
// counts distinct sessions.
func migration002SessionIndex() Migration {
	const name = "idx_client_events_session_init"
	return Migration{
		Version:     "002",
		Description: "Index client_events by session and init id",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&telemetry.ClientEvent{}, name) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + name + " ON client_events (session_id, init_id)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&telemetry.ClientEvent{}, name)
		},
	}
}
