package lock

import (
	"encoding/binary"
	"time"
)

// record is the 16-byte {pid:u32, _pad:u32, time:i64} wire layout of
// spec.md §6 for both lock.<fp> and last.<fp> keys.
type record struct {
	PID  uint32
	Time int64
}

func encodeRecord(r record) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], r.PID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Time))
	return buf
}

func decodeRecord(b []byte) (record, bool) {
	if len(b) != 16 {
		return record{}, false
	}
	return record{
		PID:  binary.LittleEndian.Uint32(b[0:4]),
		Time: int64(binary.LittleEndian.Uint64(b[8:16])),
	}, true
}

func recordTime(r record) time.Time {
	return time.Unix(r.Time, 0)
}
