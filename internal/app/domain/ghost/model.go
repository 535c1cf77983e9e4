package ghost

import "time"

// Entry is a retired application identifier. While Cleared is false the
// identifier must not be issued again.
type Entry struct {
	Identifier string     `db:"identifier" json:"identifier"`
	Reason     string     `db:"reason" json:"reason"`
	Cleared    bool       `db:"cleared" json:"cleared"`
	RecordedAt time.Time  `db:"recorded_at" json:"recorded_at"`
	ClearedAt  *time.Time `db:"cleared_at" json:"cleared_at,omitempty"`
	ClearedBy  string     `db:"cleared_by" json:"cleared_by,omitempty"`
}

// Listing is the admin view of open entries.
type Listing struct {
	Entries      []Entry `json:"entries"`
	OpenCount    int     `json:"open_count"`
	ClearedCount int     `json:"cleared_count"`
}
