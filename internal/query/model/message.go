package model

// MessageKind discriminates SessionMessage.
type MessageKind string

const (
	KindProgress    MessageKind = "progress"
	KindFieldUpdate MessageKind = "field-update"
	KindListAppend  MessageKind = "list-append"
	KindLog         MessageKind = "log"
	KindError       MessageKind = "error"
	KindDone        MessageKind = "done"
)

// SessionMessage is one decoded inbound line. Only the members matching Kind are set.
type SessionMessage struct {
	Kind MessageKind

	// Percentage is set for KindProgress.
	Percentage float64

	// Key and Value are set for KindFieldUpdate and KindListAppend.
	// For list appends Entry holds the decoded structured value.
	Key   string
	Value string
	Entry any

	// Text is set for KindLog and KindError.
	Text string

	// Raw is the line as received.
	Raw string
}
