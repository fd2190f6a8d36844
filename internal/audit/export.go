package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var exportHeader = []string{"at", "actor_id", "action", "entity", "entity_id", "before", "after"}

// ExportCSV renders records as CSV, one row per record.
func ExportCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			rec.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(rec.ActorID, 10),
			rec.Action,
			rec.Entity,
			rec.EntityID,
			string(rec.Before),
			string(rec.After),
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
