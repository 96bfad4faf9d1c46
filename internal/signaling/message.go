// Package signaling carries the storage channel over WebSocket: a relay
// Server that hosts the spaces and a Client that implements storage.Area
// against it.
package signaling

// Op is a client → server operation.
type Op string

const (
	OpSet    Op = "set"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
	OpGet    Op = "get"
)

// MessageType identifies a server → client frame.
type MessageType string

const (
	MsgTypeStorage MessageType = "storage" // a change made by another window
	MsgTypeValue   MessageType = "value"   // reply to a get
	MsgTypeError   MessageType = "error"   // reply to a failed op
)

// Message is the JSON frame exchanged over the WebSocket. Requests set Op,
// server frames set Type. ID pairs a get or a failed op with its reply.
type Message struct {
	Type MessageType `json:"type,omitempty"`
	Op   Op          `json:"op,omitempty"`
	ID   uint64      `json:"id,omitempty"`

	Key    string  `json:"key,omitempty"`
	Value  *string `json:"value,omitempty"`
	Exists bool    `json:"exists,omitempty"`

	OldValue *string `json:"oldValue,omitempty"`
	NewValue *string `json:"newValue,omitempty"`
	URL      string  `json:"url,omitempty"`

	Error string `json:"error,omitempty"`
}
