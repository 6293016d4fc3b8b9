package uapi

import (
	"encoding/binary"
	"fmt"
)

// IovecSize is the encoded size of one Iovec
const IovecSize = 16

// MarshalIovecs encodes segments in native struct iovec layout (little endian).
func MarshalIovecs(iov []Iovec) []byte {
	buf := make([]byte, len(iov)*IovecSize)
	for i, v := range iov {
		off := i * IovecSize
		binary.LittleEndian.PutUint64(buf[off:off+8], v.Base)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], v.Len)
	}
	return buf
}

// UnmarshalIovecs decodes count segments from data.
func UnmarshalIovecs(data []byte, count int) ([]Iovec, error) {
	if len(data) < count*IovecSize {
		return nil, fmt.Errorf("iovec array too short: have %d bytes, need %d", len(data), count*IovecSize)
	}
	iov := make([]Iovec, count)
	for i := range iov {
		off := i * IovecSize
		iov[i].Base = binary.LittleEndian.Uint64(data[off : off+8])
		iov[i].Len = binary.LittleEndian.Uint64(data[off+8 : off+16])
	}
	return iov, nil
}

// TotalLen sums segment lengths.
func TotalLen(iov []Iovec) uint64 {
	var n uint64
	for _, v := range iov {
		n += v.Len
	}
	return n
}
