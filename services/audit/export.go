package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/upb/staffing-erp/models"
)

// ExportFormat selects the encoding of an audit export
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// Valid reports whether f is a supported export format
func (f ExportFormat) Valid() bool {
	return f == FormatCSV || f == FormatJSON
}

// ContentType returns the MIME type of the encoded export
func (f ExportFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// csvHeader is the fixed column order of CSV exports
var csvHeader = []string{
	"timestamp",
	"event_id",
	"user_email",
	"action",
	"object_type",
	"object_id",
	"result",
	"severity",
	"ip_address",
	"user_agent",
}

// encodeCSV renders events with every field quoted and embedded quotes doubled
func encodeCSV(events []*models.AuditEvent) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(csvHeader, ","))
	for _, e := range events {
		buf.WriteByte('\n')
		writeCSVRow(&buf,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			e.ID.String(),
			e.ActorEmail,
			string(e.Action),
			e.Target.Type.String(),
			e.Target.ID.String(),
			string(e.Outcome),
			string(e.Severity),
			e.IPAddress,
			e.UserAgent,
		)
	}
	return buf.Bytes()
}

func writeCSVRow(buf *bytes.Buffer, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
}

type jsonExport struct {
	Events     []*models.AuditEvent `json:"events"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
}

func encodeJSON(events []*models.AuditEvent, exportedAt time.Time) ([]byte, error) {
	if events == nil {
		events = []*models.AuditEvent{}
	}
	return json.MarshalIndent(jsonExport{
		Events:     events,
		ExportedAt: exportedAt,
		Count:      len(events),
	}, "", "  ")
}
