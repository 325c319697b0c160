package procfs

import (
	"strconv"
	"strings"

	"github.com/dsmmcken/scanflow/internal/addr"
)

// mapsLine is one parsed line of /proc/<pid>/maps.
type mapsLine struct {
	start, end addr.Address
	readable   bool
	path       string
}

// parseMaps parses the content of a /proc/<pid>/maps file. Line format:
// 55f0a8c00000-55f0a8c21000 r--p 00000000 fd:01 1234  /usr/bin/target
// Malformed lines are skipped rather than failing the whole snapshot.
func parseMaps(content string) []mapsLine {
	var out []mapsLine
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			continue
		}
		m := mapsLine{
			start:    addr.Address(start),
			end:      addr.Address(end),
			readable: strings.HasPrefix(fields[1], "r"),
		}
		if len(fields) >= 6 {
			m.path = fields[5]
		}
		out = append(out, m)
	}
	return out
}
