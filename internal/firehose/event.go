package firehose

import (
	json "github.com/goccy/go-json"
)

// Event is the raw JSON structure of one Jetstream message.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit is the raw commit payload of a commit event. Record is kept as raw
// bytes; the indexing layer owns parsing and validation.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

// Commit operations.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// ParseEvent decodes one wire message.
func ParseEvent(message []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
