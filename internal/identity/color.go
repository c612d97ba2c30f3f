package identity

// BaseColors is the palette participants are colored from, in assignment
// order.
var BaseColors = []string{
	"#ef4444", // red
	"#3b82f6", // blue
	"#22c55e", // green
	"#f97316", // orange
	"#a855f7", // purple
	"#eab308", // yellow
	"#ec4899", // pink
	"#14b8a6", // teal
	"#6366f1", // indigo
	"#84cc16", // lime
}

// AssignColor returns the first palette entry that nobody uses. Once every
// entry is taken it returns the least used one, preferring the lowest palette
// index among equals, so colors are reused round robin. Colors in assigned
// that are not in the palette are ignored. An empty palette yields "".
func AssignColor(palette []string, assigned []string) string {
	if len(palette) == 0 {
		return ""
	}
	usage := make(map[string]int, len(palette))
	for _, c := range assigned {
		usage[c]++
	}
	best := palette[0]
	bestCount := usage[best]
	for _, c := range palette {
		n := usage[c]
		if n == 0 {
			return c
		}
		if n < bestCount {
			best, bestCount = c, n
		}
	}
	return best
}
