package sysevent

import (
	"math/bits"
	"strconv"
	"strings"
)

// Event is a set of system event bits.
type Event uint32

const (
	typePreOS = iota
	typePostOS
	typeFilesystemInit
	typeFilesystemShutdown
	typeSettingsInitStart
	typeSettingsInitEnd
	typeShutdown

	// TypeCount is the number of defined event bits.
	TypeCount
)

const (
	// PreOS is broadcast before the scheduler starts. Consumers must Ack
	// from inside their callback.
	PreOS Event = 1 << typePreOS
	// PostOS is broadcast once the scheduler runs.
	PostOS             Event = 1 << typePostOS
	FilesystemInit     Event = 1 << typeFilesystemInit
	FilesystemShutdown Event = 1 << typeFilesystemShutdown
	SettingsInitStart  Event = 1 << typeSettingsInitStart
	SettingsInitEnd    Event = 1 << typeSettingsInitEnd
	Shutdown           Event = 1 << typeShutdown

	// All is the union of every defined event bit.
	All Event = 1<<TypeCount - 1
)

var eventNames = [TypeCount]string{
	"pre-os",
	"post-os",
	"fs-init",
	"fs-shutdown",
	"settings-start",
	"settings-end",
	"shutdown",
}

// String joins the names of the set bits with '|'.
func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var b strings.Builder
	for rest := e; rest != 0; rest &= rest - 1 {
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		i := bits.TrailingZeros32(uint32(rest))
		if i < TypeCount {
			b.WriteString(eventNames[i])
		} else {
			b.WriteString("bit")
			b.WriteString(strconv.Itoa(i))
		}
	}
	return b.String()
}

// each calls fn with the index and single-bit value of every set bit.
func (e Event) each(fn func(i int, bit Event)) {
	for rest := e; rest != 0; rest &= rest - 1 {
		i := bits.TrailingZeros32(uint32(rest))
		fn(i, Event(1)<<i)
	}
}
