package bookmark

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record value field numbers. Unknown fields are skipped on decode so newer
// writers stay readable.
const (
	fieldID         protowire.Number = 1
	fieldDocumentID protowire.Number = 2
	fieldPage       protowire.Number = 3
	fieldOffset     protowire.Number = 4
	fieldLabel      protowire.Number = 5
	fieldKind       protowire.Number = 6
	fieldVersion    protowire.Number = 7
	fieldCreatedAt  protowire.Number = 8
	fieldUpdatedAt  protowire.Number = 9
)

// encodeRecord serializes a bookmark in protobuf wire format
func encodeRecord(b Bookmark) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldID, protowire.BytesType)
	buf = protowire.AppendString(buf, b.ID)
	buf = protowire.AppendTag(buf, fieldDocumentID, protowire.BytesType)
	buf = protowire.AppendString(buf, b.DocumentID)
	buf = protowire.AppendTag(buf, fieldPage, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Page))
	if b.Offset != 0 {
		buf = protowire.AppendTag(buf, fieldOffset, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(b.Offset))
	}
	if b.Label != "" {
		buf = protowire.AppendTag(buf, fieldLabel, protowire.BytesType)
		buf = protowire.AppendString(buf, b.Label)
	}
	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Kind))
	buf = protowire.AppendTag(buf, fieldVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, b.Version)
	buf = protowire.AppendTag(buf, fieldCreatedAt, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(b.CreatedAt.UnixNano()))
	buf = protowire.AppendTag(buf, fieldUpdatedAt, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(b.UpdatedAt.UnixNano()))
	return buf
}

// decodeRecord parses a record value and validates the result
func decodeRecord(data []byte) (Bookmark, error) {
	var b Bookmark
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Bookmark{}, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			b.ID, n = protowire.ConsumeString(data)
		case num == fieldDocumentID && typ == protowire.BytesType:
			b.DocumentID, n = protowire.ConsumeString(data)
		case num == fieldLabel && typ == protowire.BytesType:
			b.Label, n = protowire.ConsumeString(data)
		case num == fieldOffset && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(data)
			b.Offset = math.Float64frombits(v)
		case typ == protowire.VarintType && num >= fieldPage && num <= fieldUpdatedAt:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			switch num {
			case fieldPage:
				if v > math.MaxInt32 {
					return Bookmark{}, fmt.Errorf("page %d out of range", v)
				}
				b.Page = int(v)
			case fieldKind:
				b.Kind = Kind(v)
			case fieldVersion:
				b.Version = v
			case fieldCreatedAt:
				b.CreatedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			case fieldUpdatedAt:
				b.UpdatedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			default:
				// a varint where a non-varint field is expected
				return Bookmark{}, fmt.Errorf("field %d: unexpected wire type %d", num, typ)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return Bookmark{}, protowire.ParseError(n)
		}
		data = data[n:]
	}

	if b.ID == "" {
		return Bookmark{}, fmt.Errorf("record without id")
	}
	if err := b.Validate(); err != nil {
		return Bookmark{}, err
	}
	return b, nil
}
