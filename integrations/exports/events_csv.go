package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"fiatreserve/core/types"
)

// EventsCSV builds a CSV export for the supplied event records and returns the
// serialised data alongside a SHA-256 checksum of the payload. Attributes are
// embedded as a JSON object column.
func EventsCSV(records []types.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "id", "index", "operation", "type", "attributes", "committed_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		if rec.Event == nil {
			continue
		}
		attrs, err := attributesJSON(rec.Event)
		if err != nil {
			return nil, "", err
		}
		row := []string{
			strconv.FormatUint(rec.Sequence, 10),
			rec.ID,
			strconv.Itoa(rec.Index),
			rec.Operation,
			rec.Event.Type,
			attrs,
			rec.CommittedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

func attributesJSON(evt *types.Event) (string, error) {
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func checksummed(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
