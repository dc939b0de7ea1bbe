package db

import (
	"fmt"

	"gorm.io/gorm"

	"fieldops-service/internal/model"
)

var migrationStatements = []string{
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'ticket_status') THEN
			CREATE TYPE ticket_status AS ENUM ('open', 'assigned', 'in_progress', 'on_hold', 'completed', 'cancelled');
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'ticket_priority') THEN
			CREATE TYPE ticket_priority AS ENUM ('low', 'normal', 'high', 'urgent');
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'team_role') THEN
			CREATE TYPE team_role AS ENUM ('lead', 'member', 'support');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS technicians (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		phone VARCHAR(32),
		status VARCHAR(16) NOT NULL DEFAULT 'available',
		max_daily_tickets INTEGER NOT NULL DEFAULT 0,
		skills JSONB,
		skill_level VARCHAR(16),
		service_zones JSONB,
		average_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		sla_compliance_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		location_updated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_technicians_status ON technicians (status);`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		ticket_number VARCHAR(32) NOT NULL UNIQUE,
		customer_id BIGINT NOT NULL,
		type VARCHAR(32) NOT NULL,
		priority ticket_priority NOT NULL,
		status ticket_status NOT NULL DEFAULT 'open',
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		required_skills JSONB,
		service_zone VARCHAR(64),
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		assigned_technician_id BIGINT REFERENCES technicians(id) ON DELETE RESTRICT,
		sla_due_date TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		resolution_notes TEXT,
		created_by_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_tickets_completed_at CHECK ((status = 'completed') = (completed_at IS NOT NULL))
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_customer_id ON tickets (customer_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_priority ON tickets (priority);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_sla_due_date ON tickets (sla_due_date);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_assigned_technician_id ON tickets (assigned_technician_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_service_zone ON tickets (service_zone);`,
	`CREATE TABLE IF NOT EXISTS ticket_assignments (
		id BIGSERIAL PRIMARY KEY,
		ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE RESTRICT,
		technician_id BIGINT NOT NULL REFERENCES technicians(id) ON DELETE RESTRICT,
		role team_role NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		assigned_by VARCHAR(64),
		assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		unassigned_at TIMESTAMPTZ,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ticket_assignments_ticket_technician ON ticket_assignments (ticket_id, technician_id);`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_assignments_technician_id ON ticket_assignments (technician_id);`,
	// at most one active lead per ticket, enforced at every statement boundary
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ticket_assignments_single_lead ON ticket_assignments (ticket_id) WHERE is_active AND role = 'lead';`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		event_kind VARCHAR(48) NOT NULL,
		ticket_id BIGINT REFERENCES tickets(id) ON DELETE SET NULL,
		invoice_id BIGINT,
		technician_id BIGINT,
		recipient_class VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'queued',
		provider_message_id VARCHAR(128),
		error TEXT,
		delivered_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`ALTER TABLE notifications DROP CONSTRAINT IF EXISTS notifications_ticket_id_fkey;`,
	`ALTER TABLE notifications ADD CONSTRAINT notifications_ticket_id_fkey
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE SET NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_event_kind ON notifications (event_kind);`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_ticket_id ON notifications (ticket_id);`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_invoice_id ON notifications (invoice_id);`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications (status);`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_provider_message_id ON notifications (provider_message_id);`,
	`CREATE TABLE IF NOT EXISTS escalations (
		id BIGSERIAL PRIMARY KEY,
		ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE RESTRICT,
		kind VARCHAR(32) NOT NULL,
		remaining_minutes INTEGER NOT NULL,
		notification_id BIGINT REFERENCES notifications(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_ticket_kind ON escalations (ticket_id, kind, created_at DESC);`,
	`CREATE OR REPLACE FUNCTION set_updated_at()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_tickets_updated_at') THEN
			CREATE TRIGGER trg_tickets_updated_at
				BEFORE UPDATE ON tickets
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_ticket_assignments_updated_at') THEN
			CREATE TRIGGER trg_ticket_assignments_updated_at
				BEFORE UPDATE ON ticket_assignments
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_notifications_updated_at') THEN
			CREATE TRIGGER trg_notifications_updated_at
				BEFORE UPDATE ON notifications
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// AutoMigrate builds the schema from the models. Used for SQLite, where the
// postgres enum types, partial indexes and triggers above do not apply.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Technician{},
		&model.Ticket{},
		&model.TicketAssignment{},
		&model.Notification{},
		&model.Escalation{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
