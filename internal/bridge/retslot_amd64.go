//go:build amd64

package bridge

import "unsafe"

// On amd64 the return address the hooked function will actually use
// lives on the stack, at the address ctx.RSP points to (the stack
// pointer value the hooked function itself was entered with). ctx.RSP
// is a real, live address on the calling goroutine's own stack — not a
// copy — so writing through it changes what the function's own RET
// will do, even though ctx itself is just a snapshot struct.
func origRet(ctx *RegisterContext) uintptr {
	return uintptr(ctx.OrigRet)
}

func setReturnSlot(ctx *RegisterContext, newRet uintptr) {
	*(*uintptr)(unsafe.Pointer(uintptr(ctx.RSP))) = newRet
	ctx.OrigRet = uint64(newRet)
}
