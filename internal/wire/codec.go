package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serializes v (a fixed-layout struct, little-endian, naturally
// aligned per spec §6.1) into a new byte slice.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("wire: encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into v, which must be a pointer to a
// fixed-layout struct.
func Decode(data []byte, v any) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("wire: decode %T: %w", v, err)
	}
	return nil
}

// Size returns the encoded size of v without allocating a reusable buffer
// (the mainloop worker uses it for the request header's size).
func Size(v any) int {
	b, err := Encode(v)
	if err != nil {
		return 0
	}
	return len(b)
}
