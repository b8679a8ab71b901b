package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dFlow/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding. Byte fields
// are base64 encoded.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	var decoded common.Message
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	*msg = decoded
	return nil
}
