package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

// Exporter renders audit records for administrative download.
type Exporter struct{}

// NewExporter constructs an Exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// WriteCSV renders records as CSV with a header row.
func (e *Exporter) WriteCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "created_at", "actor_id", "actor_name", "action", "level",
		"resource_type", "resource_id", "outcome", "error_message", "ip", "request_id", "metadata"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		actorID := ""
		if rec.ActorID != nil {
			actorID = strconv.FormatInt(*rec.ActorID, 10)
		}
		meta := ""
		if len(rec.Metadata) > 0 {
			if data, err := json.Marshal(rec.Metadata); err == nil {
				meta = string(data)
			}
		}
		row := []string{
			rec.ID.String(),
			rec.CreatedAt.Format(time.RFC3339),
			actorID,
			rec.ActorName,
			string(rec.Action),
			string(Classify(rec.Action)),
			rec.ResourceType,
			rec.ResourceID,
			string(rec.Outcome),
			rec.ErrorMessage,
			rec.IP,
			rec.RequestID,
			meta,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
