package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"fiatreserve/core/types"
)

// EventsJSONL builds a JSON Lines export for the supplied event records and
// returns the serialised payload alongside a checksum.
func EventsJSONL(records []types.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		if rec.Event == nil {
			continue
		}
		attrs := rec.Event.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		payload := map[string]interface{}{
			"sequence":     rec.Sequence,
			"id":           rec.ID,
			"index":        rec.Index,
			"operation":    rec.Operation,
			"type":         rec.Event.Type,
			"attributes":   attrs,
			"committed_at": rec.CommittedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}
