//go:build linux

package procinfo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type linuxSource struct{}

func newPlatformSource() source { return linuxSource{} }

// readRegions parses /proc/self/maps, whose lines look like:
//
//	55a1f2c0e000-55a1f2c30000 r-xp 00000000 08:01 131074  /usr/bin/cat
func (linuxSource) readRegions() ([]Region, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("procinfo: %w", err)
	}
	defer f.Close()

	var regions []Region
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil {
			continue
		}
		path := ""
		if len(fields) >= 6 {
			path = fields[5]
		}
		regions = append(regions, Region{
			Base:  uintptr(start),
			Size:  uintptr(end - start),
			Perms: fields[1],
			Path:  path,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("procinfo: reading /proc/self/maps: %w", err)
	}
	return regions, nil
}
