//go:build amd64

package bridge

// bridgeEntry is implemented in bridge_amd64.s. It has no Go-callable
// signature in the conventional sense — it is only ever reached by a
// raw jump from JIT'd code, never called — so it is declared with no
// arguments purely to give the linker a symbol to take the address of.
func bridgeEntry()

func bridgeEntryAddr() uintptr {
	return funcPC(bridgeEntry)
}
