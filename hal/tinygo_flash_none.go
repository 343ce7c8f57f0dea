//go:build tinygo && baremetal && !(rp2040 || rp2350)

package hal

// newBoardFlash reports no flash on boards without a machine.Flash mapping.
func newBoardFlash() Flash {
	return newNORFlash(nil, 0, 1)
}
