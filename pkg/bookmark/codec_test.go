package bookmark

import (
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestRecordCodec(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)
	in := Bookmark{
		ID:         NewID(testDoc),
		DocumentID: testDoc,
		Page:       41,
		Offset:     0.625,
		Label:      "Chapter 3",
		Kind:       User,
		Version:    7,
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Hour),
	}

	out, err := decodeRecord(encodeRecord(in))
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if out.ID != in.ID || out.DocumentID != in.DocumentID || out.Page != in.Page || out.Offset != in.Offset ||
		out.Label != in.Label || out.Kind != in.Kind || out.Version != in.Version ||
		!out.CreatedAt.Equal(in.CreatedAt) || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}

func TestRecordCodecSkipsUnknownFields(t *testing.T) {
	in := Bookmark{ID: LastReadID(testDoc), DocumentID: testDoc, Page: 3, Kind: LastRead, Version: 1}
	data := encodeRecord(in)
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "from a newer writer")

	out, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if out.Page != 3 || out.Kind != LastRead {
		t.Errorf("Expected page 3 last-read, got %+v", out)
	}
}

func TestRecordCodecRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", encodeRecord(Bookmark{ID: NewID(testDoc), DocumentID: testDoc, Kind: User})[:5]},
		{"no id", protowire.AppendVarint(protowire.AppendTag(nil, fieldPage, protowire.VarintType), 1)},
		{"bad kind", encodeRecord(Bookmark{ID: NewID(testDoc), DocumentID: testDoc, Kind: 9})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRecord(tt.data); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestDocumentOf(t *testing.T) {
	tests := []struct {
		id     string
		doc    string
		wantOK bool
	}{
		{LastReadID("abc"), "abc", true},
		{"abc:1234", "abc", true},
		{"abc", "", false},
		{":x", "", false},
		{"abc:", "", false},
	}
	for _, tt := range tests {
		doc, ok := DocumentOf(tt.id)
		if doc != tt.doc || ok != tt.wantOK {
			t.Errorf("DocumentOf(%q) = %q, %v; want %q, %v", tt.id, doc, ok, tt.doc, tt.wantOK)
		}
	}
}
