// Package timestamp supplies the clock the ext2 driver stamps onto inode
// access/create/modify/delete fields. On-disk timestamps are always 32-bit
// seconds-since-epoch regardless of which Clock produced them.
package timestamp

import (
	"os"
	"strconv"
	"time"
)

// Clock produces the current time as ext2 stores it: seconds since the
// Unix epoch, truncated to 32 bits. The driver never calls time.Now()
// directly so that a host without a real-time clock can substitute a tick
// counter.
type Clock interface {
	Now() uint32
}

// RealClock reads the host's wall clock, honoring SOURCE_DATE_EPOCH for
// reproducible test fixtures.
type RealClock struct{}

func (RealClock) Now() uint32 {
	return uint32(getTime().Unix())
}

func getTime() time.Time {
	if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
		if ts, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			return time.Unix(ts, 0).UTC()
		}
	}
	return time.Now().UTC()
}

// TickClock is the reference substitute for hosts with no real-time clock:
// every call advances by one tick from a fixed epoch. It gives every
// timestamp a distinct, monotonically increasing value without depending on
// wall-clock hardware.
type TickClock struct {
	Epoch uint32
	ticks uint32
}

func (c *TickClock) Now() uint32 {
	c.ticks++
	return c.Epoch + c.ticks
}
