package domain

// CursorPalette holds the predefined cursor colors handed out to collaborators.
// Assignment is CountActive mod len(CursorPalette) at join time: a stable,
// collision-tolerant spread rather than a collision-free allocation.
var CursorPalette = []string{
	"#ef4444", // red
	"#f97316", // orange
	"#eab308", // yellow
	"#22c55e", // green
	"#06b6d4", // cyan
	"#3b82f6", // blue
	"#8b5cf6", // violet
	"#ec4899", // pink
	"#6366f1", // indigo
	"#14b8a6", // teal
}

// DefaultCursorColor is used when a session cannot be found for a color lookup.
const DefaultCursorColor = "#6366f1"

// CursorColorAt returns the palette entry for the nth joiner.
func CursorColorAt(n int) string {
	if n < 0 {
		n = -n
	}
	return CursorPalette[n%len(CursorPalette)]
}
