package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType represents the type of logged operation
type OpType byte

const (
	// OpPut records the full value of a key
	OpPut OpType = 1

	// OpDelete records a tombstone for a key
	OpDelete OpType = 2
)

const (
	// Magic marks the start of every frame; the scanner resyncs on it
	Magic uint32 = 0xB0C4_3A11

	// EntryHeaderSize is the fixed size of the entry header
	// Layout: Magic(4) + LSN(8) + OpType(1) + Reserved(3) + KeyLen(4) + ValLen(4) + Timestamp(8)
	EntryHeaderSize = 32

	// MaxKeySize bounds key length; larger lengths are treated as corruption
	MaxKeySize = 1 << 10

	// MaxValueSize bounds value length; larger lengths are treated as corruption
	MaxValueSize = 1 << 20

	crcSize = 4
)

var magicBytes = binary.LittleEndian.AppendUint32(nil, Magic)

// Entry represents a single logged record
type Entry struct {
	LSN       uint64    // Log Sequence Number (monotonically increasing per log)
	OpType    OpType    // Operation type
	Key       []byte    // Record key
	Value     []byte    // Record value (empty for OpDelete)
	Timestamp time.Time // Commit time of the record
}

// Encode serializes the entry to bytes with CRC32 checksum
// Format: [Header(32)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() ([]byte, error) {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	if keyLen == 0 || keyLen > MaxKeySize || valLen > MaxValueSize {
		return nil, fmt.Errorf("%w: key=%d value=%d bytes", ErrInvalidEntry, keyLen, valLen)
	}
	if e.OpType != OpPut && e.OpType != OpDelete {
		return nil, fmt.Errorf("%w: op %d", ErrInvalidEntry, e.OpType)
	}

	buf := make([]byte, e.Size())

	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint64(buf[4:12], e.LSN)
	buf[12] = byte(e.OpType)
	// bytes 13-15 are reserved
	binary.LittleEndian.PutUint32(buf[16:20], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	// CRC covers header, key and value
	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+crcSize], crc)

	return buf, nil
}

// frameSize reads the lengths from a header and returns the full frame size.
// ok is false when the header cannot belong to a valid frame.
func frameSize(header []byte) (size int, ok bool) {
	if binary.LittleEndian.Uint32(header[0:4]) != Magic {
		return 0, false
	}
	op := OpType(header[12])
	if op != OpPut && op != OpDelete {
		return 0, false
	}
	keyLen := binary.LittleEndian.Uint32(header[16:20])
	valLen := binary.LittleEndian.Uint32(header[20:24])
	if keyLen == 0 || keyLen > MaxKeySize || valLen > MaxValueSize {
		return 0, false
	}
	return EntryHeaderSize + int(keyLen) + int(valLen) + crcSize, true
}

// DecodeEntry deserializes one complete frame
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+crcSize {
		return nil, ErrTruncated
	}

	size, ok := frameSize(data[:EntryHeaderSize])
	if !ok {
		return nil, ErrCorrupted
	}
	if len(data) < size {
		return nil, ErrTruncated
	}
	data = data[:size]

	storedCRC := binary.LittleEndian.Uint32(data[size-crcSize:])
	if crc32.ChecksumIEEE(data[:size-crcSize]) != storedCRC {
		return nil, ErrCorrupted
	}

	keyLen := int(binary.LittleEndian.Uint32(data[16:20]))
	valLen := int(binary.LittleEndian.Uint32(data[20:24]))

	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[4:12]),
		OpType:    OpType(data[12]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[24:32]))),
	}

	offset := EntryHeaderSize
	entry.Key = make([]byte, keyLen)
	copy(entry.Key, data[offset:offset+keyLen])
	offset += keyLen

	if valLen > 0 {
		entry.Value = make([]byte, valLen)
		copy(entry.Value, data[offset:offset+valLen])
	}

	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + crcSize
}

// String returns a human-readable representation of the entry
func (e *Entry) String() string {
	opName := "UNKNOWN"
	switch e.OpType {
	case OpPut:
		opName = "PUT"
	case OpDelete:
		opName = "DELETE"
	}
	return fmt.Sprintf("WAL[LSN=%d Op=%s Key=%s ValLen=%d]",
		e.LSN, opName, e.Key, len(e.Value))
}
