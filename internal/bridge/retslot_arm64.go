//go:build arm64

package bridge

// On arm64 the return address the hooked function will actually use
// lives in X30 (the link register), not on the stack. bridgeEntry's own
// restore sequence writes ctx.LR back into the real R30 before its
// final jump, so a plain field assignment here is enough to redirect
// where the hooked function resumes; no unsafe pointer write is needed.
func origRet(ctx *RegisterContext) uintptr {
	return uintptr(ctx.LR)
}

func setReturnSlot(ctx *RegisterContext, newRet uintptr) {
	ctx.LR = uint64(newRet)
}
