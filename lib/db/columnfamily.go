package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
)

// --------------------------------------------------------------------------
// Column Families
// --------------------------------------------------------------------------

// ColumnFamily identifies a logical table inside a KVDB. Every key of a
// column family starts with the two byte big endian id of the family, so all
// entries of one family are adjacent in key order.
type ColumnFamily uint16

// ColumnFamilyPrefixLength is the number of key bytes used by the column family id
const ColumnFamilyPrefixLength = 2

// ErrNotFound is returned by operations that require an existing entry.
var ErrNotFound = errors.New("db: key not found")

// Prefix returns the key prefix of the column family followed by the given key parts.
func (cf ColumnFamily) Prefix(parts ...[]byte) []byte {
	size := ColumnFamilyPrefixLength
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, ColumnFamilyPrefixLength, size)
	binary.BigEndian.PutUint16(key, uint16(cf))
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// FamilyOf returns the column family of a raw key.
func FamilyOf(key []byte) (ColumnFamily, bool) {
	if len(key) < ColumnFamilyPrefixLength {
		return 0, false
	}
	return ColumnFamily(binary.BigEndian.Uint16(key)), true
}

// --------------------------------------------------------------------------
// Key Parts
// --------------------------------------------------------------------------

// LongKey encodes an int64 key part. Non-negative values keep their numeric order.
func LongKey(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// IntKey encodes an int32 key part.
func IntKey(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// StringKey encodes a string key part with a length prefix, so a string part
// followed by further parts never collides with a longer string.
func StringKey(s string) []byte {
	b := make([]byte, 4, 4+len(s))
	binary.BigEndian.PutUint32(b, uint32(len(s)))
	return append(b, s...)
}

// DecodeLong decodes a key part written by LongKey.
func DecodeLong(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("long key part too short: %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// --------------------------------------------------------------------------
// Typed Tables
// --------------------------------------------------------------------------

var valueHandle = &codec.MsgpackHandle{}

// Table is a typed view on a column family. Values are msgpack encoded.
type Table[V any] struct {
	cf ColumnFamily
}

// NewTable creates a typed view on the column family cf.
func NewTable[V any](cf ColumnFamily) *Table[V] {
	return &Table[V]{cf: cf}
}

// Family returns the column family of the table.
func (t *Table[V]) Family() ColumnFamily {
	return t.cf
}

// Get returns the value stored under the key parts.
func (t *Table[V]) Get(tx ReadTx, parts ...[]byte) (V, bool, error) {
	var value V
	raw, ok := tx.Get(t.cf.Prefix(parts...))
	if !ok {
		return value, false, nil
	}
	if err := codec.NewDecoderBytes(raw, valueHandle).Decode(&value); err != nil {
		return value, false, fmt.Errorf("failed to decode value of column family %d: %w", t.cf, err)
	}
	return value, true, nil
}

// Exists reports whether the key parts are stored.
func (t *Table[V]) Exists(tx ReadTx, parts ...[]byte) bool {
	_, ok := tx.Get(t.cf.Prefix(parts...))
	return ok
}

// Upsert stores value under the key parts.
func (t *Table[V]) Upsert(tx Tx, value V, parts ...[]byte) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, valueHandle).Encode(value); err != nil {
		return fmt.Errorf("failed to encode value of column family %d: %w", t.cf, err)
	}
	return tx.Put(t.cf.Prefix(parts...), raw)
}

// Update stores value under the key parts, which must already exist.
func (t *Table[V]) Update(tx Tx, value V, parts ...[]byte) error {
	if !t.Exists(tx, parts...) {
		return ErrNotFound
	}
	return t.Upsert(tx, value, parts...)
}

// Delete removes the key parts. Missing keys are ignored.
func (t *Table[V]) Delete(tx Tx, parts ...[]byte) error {
	return tx.Delete(t.cf.Prefix(parts...))
}

// ForEach calls fn for all entries whose key starts with the key parts, in key
// order, until fn returns false. The key passed to fn has the column family
// prefix and the given parts stripped. The entries are collected before fn is
// called, so fn may modify the table.
func (t *Table[V]) ForEach(tx ReadTx, fn func(key []byte, value V) bool, parts ...[]byte) error {
	prefix := t.cf.Prefix(parts...)

	type entry struct {
		key   []byte
		value V
	}
	var entries []entry
	var decodeErr error
	err := tx.ForEachPrefix(prefix, func(key, raw []byte) bool {
		var value V
		if decodeErr = codec.NewDecoderBytes(raw, valueHandle).Decode(&value); decodeErr != nil {
			return false
		}
		entries = append(entries, entry{key: append([]byte(nil), key[len(prefix):]...), value: value})
		return true
	})
	if err != nil {
		return err
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode value of column family %d: %w", t.cf, decodeErr)
	}

	for _, e := range entries {
		if !fn(e.key, e.value) {
			return nil
		}
	}
	return nil
}

// IsEmpty reports whether no key starts with the key parts.
func (t *Table[V]) IsEmpty(tx ReadTx, parts ...[]byte) (bool, error) {
	empty := true
	err := tx.ForEachPrefix(t.cf.Prefix(parts...), func(_, _ []byte) bool {
		empty = false
		return false
	})
	return empty, err
}
