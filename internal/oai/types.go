package oai

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"time"
)

// TimeFormat is the timestamp layout used in OAI-PMH request parameters.
const TimeFormat = "2006-01-02T15:04:05Z"

// Namespace URIs seen in IGSN OAI-PMH responses.
const (
	NamespaceOAI        = "http://www.openarchives.org/OAI/2.0/"
	NamespaceIGSNKernel = "http://igsn.org/schema/kernel-v.1.0"
	NamespaceIGSNDesc   = "http://schema.igsn.org/description/1.0"
)

// ParseTime parses an OAI-PMH datestamp. Providers report either full
// second granularity or day granularity; both are accepted and returned as
// UTC instants.
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable OAI datestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// response is the OAI-PMH envelope. Exactly one of the payload fields is set
// per response.
type response struct {
	XMLName xml.Name  `xml:"OAI-PMH"`
	Date    string    `xml:"responseDate"`
	Error   *xmlError `xml:"error"`

	Identify    *Identify    `xml:"Identify"`
	ListSets    *listSets    `xml:"ListSets"`
	ListRecords *listRecords `xml:"ListRecords"`
}

type xmlError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

// Identify is the payload of the OAI-PMH Identify operation.
type Identify struct {
	RepositoryName    string `xml:"repositoryName"`
	BaseURL           string `xml:"baseURL"`
	ProtocolVersion   string `xml:"protocolVersion"`
	AdminEmail        string `xml:"adminEmail"`
	EarliestDatestamp string `xml:"earliestDatestamp"`
	DeletedRecord     string `xml:"deletedRecord"`
	Granularity       string `xml:"granularity"`
}

// EarliestTime parses the repository's earliest datestamp.
func (id *Identify) EarliestTime() (time.Time, error) {
	return ParseTime(id.EarliestDatestamp)
}

// Set describes one named subset offered by a provider.
type Set struct {
	Spec string `xml:"setSpec"`
	Name string `xml:"setName"`
}

type listSets struct {
	Sets            []Set            `xml:"set"`
	ResumptionToken *ResumptionToken `xml:"resumptionToken"`
}

type listRecords struct {
	Records         []Record         `xml:"record"`
	ResumptionToken *ResumptionToken `xml:"resumptionToken"`
}

// ResumptionToken is the provider-issued paging cursor together with the
// progress attributes the protocol attaches to it. Core logic operates on
// this typed value; it is serialized to JSON only at the storage boundary.
type ResumptionToken struct {
	Value            string `xml:",chardata" json:"value"`
	Cursor           int    `xml:"cursor,attr" json:"cursor"`
	CompleteListSize int    `xml:"completeListSize,attr" json:"complete_list_size"`
	ExpirationDate   string `xml:"expirationDate,attr" json:"expiration_date,omitempty"`
}

// MarshalJSONToken serializes a token for persistence. A nil token encodes
// as null.
func MarshalJSONToken(t *ResumptionToken) ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return json.Marshal(t)
}

// UnmarshalJSONToken restores a token persisted by MarshalJSONToken.
func UnmarshalJSONToken(data []byte) (*ResumptionToken, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var t ResumptionToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode resumption token: %w", err)
	}
	return &t, nil
}

// RecordHeader is the OAI envelope header of one record.
type RecordHeader struct {
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpec    []string `xml:"setSpec"`
	Status     string   `xml:"status,attr"`
}

// Deleted reports whether the provider flagged the record as deleted.
func (h RecordHeader) Deleted() bool {
	return h.Status == "deleted"
}

// Record is one OAI-PMH record as delivered in a ListRecords page. Inner
// keeps the raw XML of the record's children so the metadata payload can be
// handed to the normalizer verbatim.
type Record struct {
	Inner  string       `xml:",innerxml"`
	Header RecordHeader `xml:"header"`
}

// Raw reconstitutes the record as a standalone XML fragment.
func (r *Record) Raw() []byte {
	return []byte("<record>" + r.Inner + "</record>")
}

// ListArgs are the filter parameters of a ListRecords request.
type ListArgs struct {
	Prefix        string
	Set           string
	From          *time.Time
	Until         *time.Time
	IgnoreDeleted bool
}
