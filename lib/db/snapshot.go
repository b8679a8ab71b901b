package db

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Constants of the snapshot format shared by all implementations
const (
	snapshotMagic   = "DFLOWKV\x00" // File format identifier
	snapshotVersion = 1
)

// WriteSnapshot writes the entries produced by iterate to w. iterate must emit
// the entries in ascending key order and stop on the first error of emit.
//
// Format: magic, 1 byte version, 8 bytes entry count, then per entry
// 4 bytes key length, key, 4 bytes value length, value (little endian).
func WriteSnapshot(w io.Writer, count int, iterate func(emit func(key, value []byte) error) error) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(count)); err != nil {
		return err
	}

	written := 0
	err := iterate(func(key, value []byte) error {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(key))); err != nil {
			return err
		}
		if _, err := bw.Write(key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(value))); err != nil {
			return err
		}
		if _, err := bw.Write(value); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return err
	}
	if written != count {
		return fmt.Errorf("snapshot announced %d entries but wrote %d", count, written)
	}

	return bw.Flush()
}
