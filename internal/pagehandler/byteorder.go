package pagehandler

// Little-endian fixed-width helpers shared by the header, data page and
// journal wire formats. Adapted from the marshal/unmarshal helpers in the
// teacher's internal/minisql/row.go.

func putUint32(buf []byte, n uint32, i int) {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
	buf[i+2] = byte(n >> 16)
	buf[i+3] = byte(n >> 24)
}

func getUint32(buf []byte, i int) uint32 {
	return 0 |
		(uint32(buf[i+0]) << 0) |
		(uint32(buf[i+1]) << 8) |
		(uint32(buf[i+2]) << 16) |
		(uint32(buf[i+3]) << 24)
}

func putUint16(buf []byte, n uint16, i int) {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
}

func getUint16(buf []byte, i int) uint16 {
	return 0 | (uint16(buf[i+0]) << 0) | (uint16(buf[i+1]) << 8)
}

func putUint64(buf []byte, n uint64, i int) {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
	buf[i+2] = byte(n >> 16)
	buf[i+3] = byte(n >> 24)
	buf[i+4] = byte(n >> 32)
	buf[i+5] = byte(n >> 40)
	buf[i+6] = byte(n >> 48)
	buf[i+7] = byte(n >> 56)
}

func getUint64(buf []byte, i int) uint64 {
	return 0 |
		(uint64(buf[i+0]) << 0) |
		(uint64(buf[i+1]) << 8) |
		(uint64(buf[i+2]) << 16) |
		(uint64(buf[i+3]) << 24) |
		(uint64(buf[i+4]) << 32) |
		(uint64(buf[i+5]) << 40) |
		(uint64(buf[i+6]) << 48) |
		(uint64(buf[i+7]) << 56)
}
