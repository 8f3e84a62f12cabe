//go:build amd64

package bridge

// RegisterContext mirrors the layout bridge_amd64.s pushes, in
// declaration order, so field offsets match what the assembly computes
// via the Go compiler's automatic struct layout — there is no manual
// offset arithmetic on the Go side, only in the .s file's comments
// documenting which MOVQ targets which field.
type RegisterContext struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RSP                uint64 // stack pointer at entry, before this frame
	RIP                uint64 // bridgeEntry's own address; informational only
	OrigRet            uint64 // return address observed on the stack at entry
}

// ReturnValue is the ABI's integer return-value register, the one a
// post handler cares about.
func (c *RegisterContext) ReturnValue() uint64      { return c.RAX }
func (c *RegisterContext) SetReturnValue(v uint64)  { c.RAX = v }
