package domain

// SessionRecord is the persisted audit entry for one lifecycle transition.
type SessionRecord struct {
	PK        string
	SK        string
	SessionID string
	Phone     string
	Attempt   int
	State     State
	Detail    string
	TTL       int64
}

// SessionSummary stores the terminal state of a session.
type SessionSummary struct {
	PK        string
	SK        string
	SessionID string
	Phone     string
	Outcome   Outcome
	Reference string
	Attempts  int
	EndedAt   string
	TTL       int64
}
