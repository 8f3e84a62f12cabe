//go:build arm64

package bridge

// bridgeEntry is implemented in bridge_arm64.s; see bridge_amd64.go's
// comment for why it has no meaningful Go signature.
func bridgeEntry()

func bridgeEntryAddr() uintptr {
	return funcPC(bridgeEntry)
}
