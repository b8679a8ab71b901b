package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameHeaderSize is the size of the frame header:
// - 4 bytes: partition id (int32, big endian)
// - 8 bytes: request id (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
const frameHeaderSize = 4 + 8 + 4

// maxFrameSize rejects frames whose announced length cannot be a valid message
const maxFrameSize = 64 << 20

// writeFrame writes the header and the data payload with a single write
func writeFrame(conn net.Conn, partitionID int32, requestID uint64, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[:4], uint32(partitionID))
	binary.BigEndian.PutUint64(header[4:12], requestID)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn net.Conn, buf []byte) (int32, uint64, []byte, error) {
	if len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize)
	}

	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return 0, 0, nil, err
	}

	partitionID := int32(binary.BigEndian.Uint32(buf[:4]))
	requestID := binary.BigEndian.Uint64(buf[4:12])
	contentLength := int(binary.BigEndian.Uint32(buf[12:16]))

	if contentLength == 0 {
		return partitionID, requestID, []byte{}, nil
	}
	if contentLength > maxFrameSize {
		return 0, 0, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", contentLength, maxFrameSize)
	}

	if len(buf) < contentLength {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}
	return partitionID, requestID, buf[:contentLength], nil
}
