package workload

import (
	"encoding/binary"

	"github.com/joshuapare/stmkit/stm"
)

// Account segment layout. Every field is one native-endian word:
//
//	0x00  count    number of live accounts in this segment
//	0x08  next     address of the next segment, 0 for the last one
//	0x10  parity   balance correction left by removed accounts
//	0x18  accounts [slots]int64, only the first count are defined
const (
	wordSize     = 8
	offCount     = 0
	offNext      = 8
	offParity    = 16
	offAccounts  = 24
	segmentAlign = wordSize
)

// segmentSize returns the size of a segment holding slots accounts.
func segmentSize(slots int) int {
	return offAccounts + slots*wordSize
}

func accountAddr(seg stm.Addr, i int) stm.Addr {
	return seg + offAccounts + stm.Addr(i*wordSize)
}

// view reads and writes words within one transaction. Read-write views take
// exclusive locks on every read so the same segment can be written later.
type view struct {
	tx  *stm.Tx
	buf [wordSize]byte
}

func (v *view) load(p stm.Addr) (uint64, error) {
	var err error
	if v.tx.ReadOnly() {
		err = v.tx.Read(p, v.buf[:])
	} else {
		err = v.tx.ReadForUpdate(p, v.buf[:])
	}
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint64(v.buf[:]), nil
}

func (v *view) store(p stm.Addr, x uint64) error {
	binary.NativeEndian.PutUint64(v.buf[:], x)
	return v.tx.Write(v.buf[:], p)
}

func (v *view) count(seg stm.Addr) (int, error) {
	n, err := v.load(seg + offCount)
	return int(n), err
}

func (v *view) setCount(seg stm.Addr, n int) error {
	return v.store(seg+offCount, uint64(n))
}

func (v *view) next(seg stm.Addr) (stm.Addr, error) {
	p, err := v.load(seg + offNext)
	return stm.Addr(p), err
}

func (v *view) setNext(seg, next stm.Addr) error {
	return v.store(seg+offNext, uint64(next))
}

func (v *view) parity(seg stm.Addr) (int64, error) {
	x, err := v.load(seg + offParity)
	return int64(x), err
}

func (v *view) setParity(seg stm.Addr, x int64) error {
	return v.store(seg+offParity, uint64(x))
}

func (v *view) balance(p stm.Addr) (int64, error) {
	x, err := v.load(p)
	return int64(x), err
}

func (v *view) setBalance(p stm.Addr, x int64) error {
	return v.store(p, uint64(x))
}
