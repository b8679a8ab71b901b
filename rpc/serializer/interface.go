package serializer

import "github.com/ValentinKolb/dFlow/rpc/common"

// IRPCSerializer converts messages to bytes and back. Implementations are
// stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes a message
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Every field of msg is overwritten, so
	// a message may be reused across calls.
	Deserialize(b []byte, msg *common.Message) error
}
