//go:build arm64

package bridge

// RegisterContext mirrors bridge_arm64.s's save order: X0-X28 are the
// general registers AAPCS64 defines, X29/X30 are FP/LR, SP and PC round
// it out (PC holds bridgeEntry's own address and is informational only). D0-D7 cover the FP/SIMD argument-and-return
// subset spec.md §4.G calls for ("the FP register subset the callback
// may observe"), not the full V0-V31 vector file.
type RegisterContext struct {
	X   [29]uint64 // X0..X28
	FP  uint64     // X29
	LR  uint64     // X30
	SP  uint64
	PC  uint64
	D   [8]uint64 // D0..D7, raw bits
}

func (c *RegisterContext) ReturnValue() uint64     { return c.X[0] }
func (c *RegisterContext) SetReturnValue(v uint64) { c.X[0] = v }
