package codec

const (
	// StartByte1 and StartByte2 open every frame
	StartByte1 byte = 0x81
	StartByte2 byte = 0xA1

	// headerSize is the start bytes, trailerSize the two checksum bytes
	headerSize  = 2
	trailerSize = 2
)

// Checksum computes the two-byte additive checksum over payload. The first byte
// is the running sum of the payload, the second the running sum of the first.
// Both wrap modulo 256.
func Checksum(payload []byte) (ck0, ck1 byte) {
	for _, b := range payload {
		ck0 += b
		ck1 += ck0
	}
	return
}

// Encode frames payload for the wire: start bytes, payload, checksum
func Encode(payload []byte) []byte {
	frame := make([]byte, 0, headerSize+len(payload)+trailerSize)
	frame = append(frame, StartByte1, StartByte2)
	frame = append(frame, payload...)
	ck0, ck1 := Checksum(payload)
	return append(frame, ck0, ck1)
}

// FrameSize returns the encoded size of a payload of the given length
func FrameSize(payloadSize int) int {
	return headerSize + payloadSize + trailerSize
}
