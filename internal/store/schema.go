package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creation statements. The igsn table's primary key is the canonical
// identifier value, which carries the first-harvest-wins uniqueness
// guarantee; the service URL is unique so get-or-create races collapse to a
// single row. Records reference their service but not the job that harvested
// them; job linkage is reconstructable only by time-range overlap.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS service (
		id          BIGSERIAL PRIMARY KEY,
		url         TEXT NOT NULL UNIQUE,
		name        TEXT,
		admin_email TEXT,
		tearliest   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS job (
		id              BIGSERIAL PRIMARY KEY,
		service_id      BIGINT NOT NULL REFERENCES service(id),
		tstart          TIMESTAMPTZ,
		tend            TIMESTAMPTZ,
		ignore_deleted  BOOLEAN NOT NULL DEFAULT TRUE,
		metadata_prefix TEXT NOT NULL DEFAULT 'igsn',
		setspec         TEXT,
		tfrom           TIMESTAMPTZ,
		tuntil          TIMESTAMPTZ,
		tlast_record    TIMESTAMPTZ,
		resumption      JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS igsn (
		id           TEXT PRIMARY KEY,
		oai_id       TEXT NOT NULL,
		service_id   BIGINT NOT NULL REFERENCES service(id),
		harvest_time TIMESTAMPTZ NOT NULL,
		oai_time     TIMESTAMPTZ,
		igsn_time    TIMESTAMPTZ,
		registrant   TEXT,
		related      JSONB,
		log          JSONB,
		set_spec     JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS igsn_service_igsn_time_idx ON igsn (service_id, igsn_time)`,
	`CREATE INDEX IF NOT EXISTS job_service_idx ON job (service_id)`,
}

// Bootstrap creates the harvest tables and indexes if not already present.
func Bootstrap(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
