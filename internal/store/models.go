package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/isamplesorg/igsn-lib/internal/record"
)

// Service is a metadata-provider endpoint. Created once per distinct URL and
// populated from the provider's Identify operation.
type Service struct {
	ID         int64      `db:"id"`
	URL        string     `db:"url"`
	Name       *string    `db:"name"`
	AdminEmail *string    `db:"admin_email"`
	TEarliest  *time.Time `db:"tearliest"`
}

// Job is one bounded harvest request against a Service.
//
// TFrom/TUntil describe the provider-side time range to request. TLastRecord
// is the resume watermark: the domain timestamp of the last committed new
// record. Resumption holds the provider's paging token as JSON, written only
// at this storage boundary.
type Job struct {
	ID             int64      `db:"id"`
	ServiceID      int64      `db:"service_id"`
	TStart         *time.Time `db:"tstart"`
	TEnd           *time.Time `db:"tend"`
	IgnoreDeleted  bool       `db:"ignore_deleted"`
	MetadataPrefix string     `db:"metadata_prefix"`
	SetSpec        *string    `db:"setspec"`
	TFrom          *time.Time `db:"tfrom"`
	TUntil         *time.Time `db:"tuntil"`
	TLastRecord    *time.Time `db:"tlast_record"`
	Resumption     []byte     `db:"resumption"`
}

// IGSN is one harvested identifier record. The IGSN value is the primary
// key; a record is written once and never updated by the pipeline.
type IGSN struct {
	ID          string     `db:"id"`
	OAIID       string     `db:"oai_id"`
	ServiceID   int64      `db:"service_id"`
	HarvestTime time.Time  `db:"harvest_time"`
	OAITime     *time.Time `db:"oai_time"`
	IGSNTime    *time.Time `db:"igsn_time"`
	Registrant  *string    `db:"registrant"`
	Related     []byte     `db:"related"`
	Log         []byte     `db:"log"`
	SetSpec     []byte     `db:"set_spec"`
}

// NewIGSN maps a normalized record onto its persisted form, serializing the
// list-valued sections to JSON.
func NewIGSN(rec *record.Record, serviceID int64, harvestTime time.Time) (*IGSN, error) {
	row := &IGSN{
		ID:          rec.IGSN,
		OAIID:       rec.OAIID,
		ServiceID:   serviceID,
		HarvestTime: harvestTime.UTC(),
	}

	if !rec.OAITime.IsZero() {
		t := rec.OAITime
		row.OAITime = &t
	}
	if !rec.IGSNTime.IsZero() {
		t := rec.IGSNTime
		row.IGSNTime = &t
	}
	if rec.Registrant != "" {
		r := rec.Registrant
		row.Registrant = &r
	}

	var err error
	if row.Log, err = json.Marshal(rec.Log); err != nil {
		return nil, fmt.Errorf("failed to encode log entries: %w", err)
	}
	if row.Related, err = json.Marshal(rec.Related); err != nil {
		return nil, fmt.Errorf("failed to encode related identifiers: %w", err)
	}
	if row.SetSpec, err = json.Marshal(rec.SetSpec); err != nil {
		return nil, fmt.Errorf("failed to encode set specs: %w", err)
	}

	return row, nil
}
