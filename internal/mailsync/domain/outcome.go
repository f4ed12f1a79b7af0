package domain

type ProcessOutcome string

const (
	OutcomeProcessed ProcessOutcome = "processed"
	OutcomeSkipped   ProcessOutcome = "skipped"
	OutcomeDuplicate ProcessOutcome = "duplicate"
	OutcomeError     ProcessOutcome = "error"
)

// ProcessResult is the tagged result of ingesting one message.
type ProcessResult struct {
	Outcome   ProcessOutcome
	Reason    string
	MessageID string
	LeadID    string
	RecordID  string
	Err       error
}

// Settled reports whether the message needs no further attempts.
func (r ProcessResult) Settled() bool {
	return r.Outcome != OutcomeError
}

const (
	SkipNotAddressed  = "not_addressed_to_account"
	SkipUnknownSender = "unknown_sender"
	SkipDeleted       = "message_not_found"
)
