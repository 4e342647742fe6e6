package domain

// ParserKind identifies an independent polling pipeline. Each kind keeps its
// own checkpoint per (guild, server) and runs on its own schedule.
type ParserKind string

const (
	// KindHistorical rebuilds aggregates from the full death-log history.
	KindHistorical ParserKind = "historical"
	// KindKillfeed tails the newest death-log CSV incrementally.
	KindKillfeed ParserKind = "killfeed"
	// KindUnified tails the unified server text log incrementally.
	KindUnified ParserKind = "unified"
)

// Valid reports whether k is one of the known parser kinds.
func (k ParserKind) Valid() bool {
	switch k {
	case KindHistorical, KindKillfeed, KindUnified:
		return true
	}
	return false
}
