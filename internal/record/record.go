// Package record converts raw OAI-PMH IGSN record XML into a structured,
// normalized record ready for persistence.
//
// The IGSN kernel schema is at
// https://doidb.wdc-terra.org/igsn/schemas/igsn.org/schema/1.0/igsn.xsd.
package record

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isamplesorg/igsn-lib/internal/igsn"
	"github.com/isamplesorg/igsn-lib/internal/oai"
)

// ErrParse wraps all per-record parse and mapping failures. Callers skip the
// offending record and continue.
var ErrParse = errors.New("unparseable IGSN record")

// LogEvent is one entry of a record's lifecycle log.
type LogEvent struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
}

// RelatedIdentifier links a sample to another identifier. Attribute values
// default to the empty string when absent in the source record.
type RelatedIdentifier struct {
	ID           string `json:"id"`
	IDType       string `json:"id_type"`
	RelationType string `json:"rel_type"`
}

// Record is the normalized form of one harvested IGSN metadata record.
// All times are UTC. Optional fields are empty slices or zero times, never
// absent keys.
type Record struct {
	// IGSN is the canonical normalized identifier value.
	IGSN string

	// OAIID is the provider-internal record identifier.
	OAIID string

	// OAITime is the datestamp reported in the OAI envelope header.
	OAITime time.Time

	// IGSNTime is the domain timestamp derived from the lifecycle log:
	// the submitted event time, falling back to registered, then updated.
	// Zero when no recognized event is present.
	IGSNTime time.Time

	Registrant string
	SetSpec    []string
	Log        []LogEvent
	Related    []RelatedIdentifier
}

// XML shapes. Element fields are slice-typed where the schema allows
// repetition, so singleton and list representations decode uniformly.

type xmlRecord struct {
	XMLName xml.Name `xml:"record"`
	Header  struct {
		Identifier string   `xml:"identifier"`
		Datestamp  string   `xml:"datestamp"`
		SetSpec    []string `xml:"setSpec"`
	} `xml:"header"`
	Metadata struct {
		Sample xmlSample `xml:"sample"`
	} `xml:"metadata"`
}

type xmlSample struct {
	XMLName      xml.Name `xml:"sample"`
	SampleNumber struct {
		Value string `xml:",chardata"`
		Type  string `xml:"identifierType,attr"`
	} `xml:"sampleNumber"`
	Registrant struct {
		Name string `xml:"registrantName"`
	} `xml:"registrant"`
	Log struct {
		Elements []xmlLogElement `xml:"logElement"`
	} `xml:"log"`
	Related struct {
		Identifiers []xmlRelated `xml:"relatedIdentifier"`
	} `xml:"relatedResourceIdentifiers"`
}

type xmlLogElement struct {
	Event     string `xml:"event,attr"`
	TimeStamp string `xml:"timeStamp,attr"`
}

type xmlRelated struct {
	Value   string `xml:",chardata"`
	IDType  string `xml:"relatedIdentifierType,attr"`
	RelType string `xml:"relationType,attr"`
}

// Precedence of lifecycle events when deriving the domain timestamp. Higher
// wins; the first occurrence of a given event is the one that counts.
//
// Event vocabulary:
// https://doidb.wdc-terra.org/igsn/schemas/igsn.org/schema/1.0/include/igsn-eventType-v1.0.xsd
func eventRank(event string) int {
	switch event {
	case "submitted":
		return 3
	case "registered":
		return 2
	case "updated":
		return 1
	}
	return 0
}

// Normalize parses one OAI-PMH <record> fragment wrapping an IGSN kernel
// payload and returns the normalized record. All failures wrap ErrParse.
func Normalize(raw []byte) (*Record, error) {
	var src xmlRecord
	if err := xml.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if src.Header.Identifier == "" {
		return nil, fmt.Errorf("%w: missing header identifier", ErrParse)
	}

	sample := src.Metadata.Sample
	if sample.SampleNumber.Value == "" {
		return nil, fmt.Errorf("%w: missing sample number", ErrParse)
	}
	// The payload carries its own namespace declaration; anything other
	// than the IGSN kernel vocabulary is not a record this pipeline models.
	if sample.XMLName.Space != "" && sample.XMLName.Space != oai.NamespaceIGSNKernel {
		return nil, fmt.Errorf("%w: unrecognized metadata namespace %q", ErrParse, sample.XMLName.Space)
	}

	value := igsn.Normalize(sample.SampleNumber.Value)
	if value == "" {
		return nil, fmt.Errorf("%w: unrecognized identifier form %q", ErrParse, sample.SampleNumber.Value)
	}

	rec := &Record{
		IGSN:       value,
		OAIID:      src.Header.Identifier,
		Registrant: sample.Registrant.Name,
		SetSpec:    append([]string{}, src.Header.SetSpec...),
		Log:        []LogEvent{},
		Related:    []RelatedIdentifier{},
	}

	if src.Header.Datestamp != "" {
		t, err := oai.ParseTime(src.Header.Datestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		rec.OAITime = t
	}

	rank := 0
	for _, entry := range sample.Log.Elements {
		event := strings.ToLower(strings.TrimSpace(entry.Event))
		t, err := oai.ParseTime(entry.TimeStamp)
		if err != nil {
			return nil, fmt.Errorf("%w: log event %q: %v", ErrParse, event, err)
		}

		rec.Log = append(rec.Log, LogEvent{Event: event, Time: t})

		// A later event only wins with strictly higher precedence, so the
		// first occurrence of the best event is never overwritten.
		if r := eventRank(event); r > rank {
			rec.IGSNTime = t
			rank = r
		}
	}

	for _, rel := range sample.Related.Identifiers {
		rec.Related = append(rec.Related, RelatedIdentifier{
			ID:           strings.TrimSpace(rel.Value),
			IDType:       rel.IDType,
			RelationType: rel.RelType,
		})
	}

	return rec, nil
}
