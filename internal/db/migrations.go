package db

import (
	"fmt"

	"gorm.io/gorm"

	"checkpoint-service/internal/repository/model"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		code            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_stations_code ON stations(code);`,
	`CREATE TABLE IF NOT EXISTS gates (
		id              BIGSERIAL PRIMARY KEY,
		station_id      BIGINT NOT NULL REFERENCES stations(id),
		name            TEXT NOT NULL,
		mode            TEXT NOT NULL DEFAULT 'both' CHECK (mode IN ('entry', 'exit', 'both')),
		camera_id       TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gates_station_id ON gates(station_id);`,
	`CREATE TABLE IF NOT EXISTS body_types (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_body_types_name ON body_types(name);`,
	`CREATE TABLE IF NOT EXISTS tariffs (
		id              BIGSERIAL PRIMARY KEY,
		station_id      BIGINT NOT NULL REFERENCES stations(id),
		body_type_id    BIGINT NOT NULL REFERENCES body_types(id),
		amount          BIGINT NOT NULL CHECK (amount >= 0),
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tariffs_lookup ON tariffs(station_id, body_type_id);`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS bundle_subscriptions (
		id              BIGSERIAL PRIMARY KEY,
		account_id      BIGINT NOT NULL REFERENCES accounts(id),
		start_datetime  TIMESTAMPTZ NOT NULL,
		end_datetime    TIMESTAMPTZ NOT NULL,
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bundle_subscriptions_account_id ON bundle_subscriptions(account_id);`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id              BIGSERIAL PRIMARY KEY,
		plate           TEXT NOT NULL,
		body_type_id    BIGINT REFERENCES body_types(id),
		make            TEXT,
		model           TEXT,
		color           TEXT,
		account_id      BIGINT REFERENCES accounts(id),
		paid_until      TIMESTAMPTZ,
		exempt          BOOLEAN NOT NULL DEFAULT FALSE,
		exempt_reason   TEXT,
		exempt_until    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at      TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_vehicles_plate ON vehicles(plate);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_account_id ON vehicles(account_id);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_deleted_at ON vehicles(deleted_at);`,
	`CREATE TABLE IF NOT EXISTS passages (
		id                      BIGSERIAL PRIMARY KEY,
		vehicle_id              BIGINT NOT NULL REFERENCES vehicles(id),
		entry_station_id        BIGINT NOT NULL REFERENCES stations(id),
		entry_gate_id           BIGINT NOT NULL REFERENCES gates(id),
		exit_station_id         BIGINT REFERENCES stations(id),
		exit_gate_id            BIGINT REFERENCES gates(id),
		entry_time              TIMESTAMPTZ NOT NULL,
		exit_time               TIMESTAMPTZ,
		payment_type            TEXT NOT NULL CHECK (payment_type IN ('cash', 'bundle', 'exemption')),
		base_amount             BIGINT NOT NULL DEFAULT 0,
		discount_amount         BIGINT NOT NULL DEFAULT 0,
		total_amount            BIGINT NOT NULL DEFAULT 0,
		passage_type            TEXT NOT NULL CHECK (passage_type IN ('toll', 'reentry', 'exempted')),
		status                  TEXT NOT NULL,
		is_paid                 BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at                 TIMESTAMPTZ,
		duration_minutes        BIGINT,
		entry_operator_id       BIGINT,
		exit_operator_id        BIGINT,
		bundle_subscription_id  BIGINT REFERENCES bundle_subscriptions(id),
		notes                   TEXT,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at              TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_passages_vehicle_id ON passages(vehicle_id);`,
	`CREATE INDEX IF NOT EXISTS idx_passages_entry_time ON passages(entry_time);`,
	`CREATE INDEX IF NOT EXISTS idx_passages_deleted_at ON passages(deleted_at);`,
	openPassageIndex,
	`CREATE TABLE IF NOT EXISTS receipts (
		id              BIGSERIAL PRIMARY KEY,
		number          TEXT NOT NULL,
		passage_id      BIGINT NOT NULL REFERENCES passages(id),
		amount          BIGINT NOT NULL,
		payment_type    TEXT NOT NULL,
		payment_method  TEXT,
		operator_id     BIGINT,
		issued_at       TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_number ON receipts(number);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_passage_id ON receipts(passage_id);`,
	`CREATE TABLE IF NOT EXISTS detections (
		id                BIGSERIAL PRIMARY KEY,
		external_id       TEXT,
		raw_plate         TEXT NOT NULL,
		normalized_plate  TEXT NOT NULL,
		station_id        BIGINT REFERENCES stations(id),
		gate_id           BIGINT REFERENCES gates(id),
		captured_at       TIMESTAMPTZ NOT NULL,
		direction         TEXT NOT NULL,
		confidence        DOUBLE PRECISION,
		vehicle_make      TEXT,
		vehicle_model     TEXT,
		vehicle_color     TEXT,
		source            TEXT NOT NULL,
		raw_payload       JSONB,
		processed         BOOLEAN NOT NULL DEFAULT FALSE,
		processing_status TEXT,
		notes             TEXT,
		passage_id        BIGINT REFERENCES passages(id),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at        TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_dedup ON detections(normalized_plate, station_id, captured_at);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_external_id ON detections(external_id);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_processing_status ON detections(processing_status);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_deleted_at ON detections(deleted_at);`,
}

// At most one open passage per vehicle. Both postgres and sqlite accept
// partial indexes in this form.
const openPassageIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_passages_open_vehicle
	ON passages(vehicle_id) WHERE exit_time IS NULL AND deleted_at IS NULL;`

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// autoMigrate builds the schema from the row models for the embedded sqlite
// mode, then adds what AutoMigrate cannot express.
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(openPassageIndex).Error; err != nil {
		return fmt.Errorf("create open passage index: %w", err)
	}
	return nil
}

// Migrate brings the schema up to date for the connected dialect.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		return runMigrations(db)
	}
	return autoMigrate(db)
}
