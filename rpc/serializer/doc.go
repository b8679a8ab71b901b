// Package serializer converts common.Message values to bytes and back.
//
// Implementations:
//
//   - Binary: flag based format that only encodes present fields. It is the
//     smallest and fastest and the default of the cli.
//
//   - Msgpack: go-msgpack encoding, the same codec the record values use.
//
//   - JSON: readable, useful for debugging with curl.
//
//   - GOB: kept for compatibility, larger and slower than the others.
//
// All serializers are stateless and safe for concurrent use.
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewStatusRequest())
//	...
//	var msg common.Message
//	err = s.Deserialize(data, &msg)
package serializer
