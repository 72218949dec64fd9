package hashtable

// SlotCount is the size of the hash-slot universe shared by every
// hash-table partition of a data structure (spec §4.3): every key maps to
// exactly one slot in [0, SlotCount), and the full range is partitioned
// contiguously across one or more partitions named "<begin>_<end>".
const SlotCount = 65536

// crc16Table is the standard CRC-16/CCITT-FALSE table (polynomial
// 0x1021), computed once at init. No ecosystem package for this exact
// variant turned up anywhere in the retrieved corpus, so the table and
// the loop below are hand-rolled rather than pulled from hash/crc32 or a
// third-party module — see DESIGN.md.
var crc16Table [256]uint16

func init() {
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// HashKey maps key to a slot in [0, SlotCount) using CRC-16/CCITT-FALSE
// over the raw key bytes, seeded at 0xFFFF.
func HashKey(key string) uint32 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(key); i++ {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^key[i]]
	}
	return uint32(crc) % SlotCount
}

// SlotRange is a half-open range [Begin, End) of the shared slot universe.
type SlotRange struct {
	Begin uint32
	End   uint32
}

// Contains reports whether slot lies in [r.Begin, r.End).
func (r SlotRange) Contains(slot uint32) bool {
	return slot >= r.Begin && slot < r.End
}

// Empty reports whether the range covers no slots.
func (r SlotRange) Empty() bool {
	return r.Begin >= r.End
}

// Mid returns the midpoint slot used to split a range for an overload
// scale-out (spec §4.4 "split [slot_range] at midpoint").
func (r SlotRange) Mid() uint32 {
	return r.Begin + (r.End-r.Begin)/2
}
