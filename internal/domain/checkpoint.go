package domain

import "time"

// ParserCheckpoint records how far a (guild, server, kind) triple has been
// processed. It is written only after the corresponding events were handed to
// downstream consumers, so re-reading from it is always safe.
type ParserCheckpoint struct {
	GuildID            string     `json:"guild_id"`
	ServerID           string     `json:"server_id"`
	ParserKind         ParserKind `json:"parser_kind"`
	LastFile           string     `json:"last_file"`
	LastLine           int64      `json:"last_line"`
	LastByteOffset     int64      `json:"last_byte_offset"`
	LastEventTimestamp time.Time  `json:"last_event_timestamp"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
