package relocate

import "unsafe"

// readMemory returns a live view of n bytes at addr. Safe only because
// this engine never targets another process: addr is always mapped in
// the calling process's own address space.
func readMemory(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func readUint32(addr uintptr) uint32 {
	b := readMemory(addr, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func readUint64(addr uintptr) uint64 {
	return uint64(readUint32(addr)) | uint64(readUint32(addr+4))<<32
}
