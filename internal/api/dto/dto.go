// Package dto defines the request and response shapes of the management API.
package dto

import "encoding/json"

type RegisterServiceRequest struct {
	URL string `json:"url" binding:"required"`
}

type ServiceDTO struct {
	ID         int64   `json:"id"`
	URL        string  `json:"url"`
	Name       *string `json:"name,omitempty"`
	AdminEmail *string `json:"admin_email,omitempty"`
	TEarliest  *string `json:"tearliest,omitempty"`
}

type SetCountDTO struct {
	SetSpec string `json:"set_spec"`
	SetName string `json:"set_name"`
	Count   *int   `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ListSetsResponse struct {
	Sets []SetCountDTO `json:"sets"`
}

// CreateJobsRequest plans harvest jobs for a service. Mode selects the
// planning strategy:
//
//   - "single": one job covering [from, until]
//   - "package": a chronological sequence of bounded jobs covering [from, until]
//   - "topup": one open-ended job continuing from the most recent stored record
type CreateJobsRequest struct {
	Mode           string `json:"mode" binding:"required,oneof=single package topup"`
	From           string `json:"from,omitempty"`
	Until          string `json:"until,omitempty"`
	SetSpec        string `json:"set_spec,omitempty"`
	MetadataPrefix string `json:"metadata_prefix,omitempty"`
	MaxSpanDays    int    `json:"max_span_days,omitempty"`
	IgnoreDeleted  bool   `json:"ignore_deleted,omitempty"`

	// Dispatch queues the created jobs for execution. Defaults to true; set
	// false to plan without running.
	Dispatch *bool `json:"dispatch,omitempty"`
}

type CreateJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	Dispatched bool     `json:"dispatched"`
}

type JobDTO struct {
	ID             int64           `json:"id"`
	ServiceID      int64           `json:"service_id"`
	MetadataPrefix string          `json:"metadata_prefix"`
	SetSpec        *string         `json:"set_spec,omitempty"`
	IgnoreDeleted  bool            `json:"ignore_deleted"`
	TFrom          *string         `json:"tfrom,omitempty"`
	TUntil         *string         `json:"tuntil,omitempty"`
	TStart         *string         `json:"tstart,omitempty"`
	TEnd           *string         `json:"tend,omitempty"`
	TLastRecord    *string         `json:"tlast_record,omitempty"`
	Resumption     json.RawMessage `json:"resumption,omitempty"`
}

type ListJobsRequest struct {
	ServiceID int64  `form:"service_id"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RecordDTO struct {
	IGSN        string          `json:"igsn"`
	OAIID       string          `json:"oai_id"`
	ServiceID   int64           `json:"service_id"`
	HarvestTime string          `json:"harvest_time"`
	OAITime     *string         `json:"oai_time,omitempty"`
	IGSNTime    *string         `json:"igsn_time,omitempty"`
	Registrant  *string         `json:"registrant,omitempty"`
	Related     json.RawMessage `json:"related"`
	Log         json.RawMessage `json:"log"`
	SetSpec     json.RawMessage `json:"set_spec"`
}

type HopDTO struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Location   string `json:"location,omitempty"`
}

type ResolveResponse struct {
	IGSN string   `json:"igsn"`
	Hops []HopDTO `json:"hops"`
}
