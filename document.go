package tether

import (
	"errors"
	"fmt"
)

// ErrNoDocument is returned when decoding a Document that does not exist.
var ErrNoDocument = errors.New("tether: document does not exist")

// Document is a Snapshot of a key/value record held as raw bytes.
// Key/value adapters in pkg/ deliver Documents and decode them with the
// Codec they were configured with.
type Document struct {
	// Key identifies the record within its store.
	Key string

	// Data is the raw payload. It is nil when Found is false.
	Data []byte

	// Found reports whether the record existed.
	Found bool

	// Revision is a store-specific version, zero when the store has none.
	Revision int64

	codec Codec
}

// NewDocument returns an existing Document decoded with codec.
// A nil codec means JSONCodec.
func NewDocument(key string, data []byte, revision int64, codec Codec) Document {
	return Document{Key: key, Data: data, Found: true, Revision: revision, codec: codec}
}

// MissingDocument returns a Document for a record that does not exist.
func MissingDocument(key string, codec Codec) Document {
	return Document{Key: key, codec: codec}
}

// Exists reports whether the record existed.
func (d Document) Exists() bool {
	return d.Found
}

// Decode unmarshals Data into v. Documents carry no server timestamps, so
// opts has no effect.
func (d Document) Decode(v any, _ SnapshotOptions) error {
	if !d.Found {
		return ErrNoDocument
	}
	codec := d.codec
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := codec.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s as %s: %w", d.Key, codec.ContentType(), err)
	}
	return nil
}

var _ Snapshot = Document{}
