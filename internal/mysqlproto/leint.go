package mysqlproto

import "encoding/binary"

// Length-encoded integer prefix bytes (protocol::LengthEncodedInteger).
const (
	lenEnc2ByteFlag byte = 0xFC
	lenEnc3ByteFlag byte = 0xFD
	lenEnc8ByteFlag byte = 0xFE
	// lenEncNullFlag (0xFB) marks a LengthEncodedInteger-typed NULL rather
	// than a value; callers that may encounter NULL columns must check for
	// it themselves before calling LenEncInt.
	lenEncNullFlag byte = 0xFB
)

// LenEncIntWidth reports how many bytes the length-encoded integer starting
// at buf[0] occupies, including its prefix byte, without validating that
// buf is long enough to hold the full value. It returns 0 if buf is empty.
func LenEncIntWidth(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	switch {
	case buf[0] < lenEncNullFlag:
		return 1
	case buf[0] == lenEnc2ByteFlag:
		return 3
	case buf[0] == lenEnc3ByteFlag:
		return 4
	case buf[0] == lenEnc8ByteFlag:
		return 9
	default:
		// 0xFB (NULL) and 0xFF (undefined) are single-byte sentinels with
		// no trailing value bytes.
		return 1
	}
}

// LenEncInt decodes a length-encoded integer at the start of buf, returning
// the value and the number of bytes consumed. It returns ErrNeedMore if buf
// is shorter than the width the prefix byte declares, and ErrMalformed if
// buf starts with the reserved 0xFF prefix.
func LenEncInt(buf []byte) (value uint64, n int, err error) {
	if len(buf) == 0 {
		return 0, 0, ErrNeedMore
	}
	switch {
	case buf[0] < lenEncNullFlag:
		return uint64(buf[0]), 1, nil
	case buf[0] == lenEncNullFlag:
		return 0, 1, nil
	case buf[0] == lenEnc2ByteFlag:
		if len(buf) < 3 {
			return 0, 0, ErrNeedMore
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case buf[0] == lenEnc3ByteFlag:
		if len(buf) < 4 {
			return 0, 0, ErrNeedMore
		}
		return uint64(buf[1]) | uint64(buf[2])<<8 | uint64(buf[3])<<16, 4, nil
	case buf[0] == lenEnc8ByteFlag:
		if len(buf) < 9 {
			return 0, 0, ErrNeedMore
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	default: // 0xFF
		return 0, 0, ErrMalformed
	}
}

// PutLenEncInt appends the length-encoded form of v to buf and returns the
// extended slice.
func PutLenEncInt(buf []byte, v uint64) []byte {
	switch {
	case v < uint64(lenEncNullFlag):
		return append(buf, byte(v))
	case v <= 0xFFFF:
		buf = append(buf, lenEnc2ByteFlag)
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case v <= 0xFFFFFF:
		buf = append(buf, lenEnc3ByteFlag, byte(v), byte(v>>8), byte(v>>16))
		return buf
	default:
		buf = append(buf, lenEnc8ByteFlag)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}
