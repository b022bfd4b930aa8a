package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"fiatreserve/core/types"
)

func sampleRecords() []types.EventRecord {
	committed := time.Unix(1700, 0).UTC()
	return []types.EventRecord{
		{
			ID:          "a",
			Sequence:    1,
			Operation:   "mint",
			Event:       &types.Event{Type: "reserve.mint", Attributes: map[string]string{"stableAmount": "10"}},
			CommittedAt: committed,
		},
		{ID: "skipped", Sequence: 2},
		{
			ID:          "b",
			Sequence:    3,
			Index:       1,
			Operation:   "redeem",
			Event:       &types.Event{Type: "reserve.redeem"},
			CommittedAt: committed,
		},
	}
}

func TestEventsCSV(t *testing.T) {
	data, checksum, err := EventsCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}
	output := string(data)
	if !strings.HasPrefix(output, "sequence,id,index,operation,type,attributes,committed_at\n") {
		t.Fatalf("missing header: %s", output)
	}
	if strings.Contains(output, "skipped") {
		t.Fatalf("record without event exported: %s", output)
	}
	if !strings.Contains(output, `"{""stableAmount"":""10""}"`) {
		t.Fatalf("attributes not embedded: %s", output)
	}
	if lines := strings.Count(output, "\n"); lines != 3 {
		t.Fatalf("expected 3 lines, got %d", lines)
	}
}

func TestEventsJSONL(t *testing.T) {
	data, checksum, err := EventsJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.Contains(output, "\"sequence\":1") || !strings.Contains(output, "\"attributes\":{}") {
		t.Fatalf("unexpected payload: %s", output)
	}
	if strings.Count(output, "\n") != 2 {
		t.Fatalf("expected two lines: %s", output)
	}
}

func TestEventsParquet(t *testing.T) {
	data, checksum, err := EventsParquet(sampleRecords())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	magic := []byte("PAR1")
	if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatalf("output is not a parquet file (%d bytes)", len(data))
	}
}

func TestEventsDispatchesByFormat(t *testing.T) {
	if _, _, err := Events("xml", nil); err == nil {
		t.Fatalf("expected unknown format error")
	}
	csvData, _, err := Events(FormatCSV, sampleRecords())
	if err != nil || !strings.HasPrefix(string(csvData), "sequence") {
		t.Fatalf("csv dispatch failed: %v", err)
	}
	if FormatParquet.ContentType() == FormatCSV.ContentType() {
		t.Fatalf("content types should differ")
	}
}
