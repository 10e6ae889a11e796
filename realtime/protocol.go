package realtime

import (
	"bytes"
	"encoding/json"
)

// recordSeparator terminates every JSON hub protocol frame.
const recordSeparator byte = 0x1e

type messageType int

const (
	typeInvocation       messageType = 1
	typeStreamItem       messageType = 2
	typeCompletion       messageType = 3
	typeStreamInvocation messageType = 4
	typeCancelInvocation messageType = 5
	typePing             messageType = 6
	typeClose            messageType = 7
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// hubMessage is the decoded form of any frame received from the hub.
type hubMessage struct {
	Type           messageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type invocationMessage struct {
	Type         messageType   `json:"type"`
	InvocationID string        `json:"invocationId,omitempty"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments"`
}

type pingMessage struct {
	Type messageType `json:"type"`
}

func encodeRecord(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

// splitRecords cuts a websocket payload into its JSON records. A trailing
// fragment without separator is returned as well.
func splitRecords(data []byte) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, recordSeparator)
		if i < 0 {
			if rec := bytes.TrimSpace(data); len(rec) > 0 {
				out = append(out, rec)
			}
			break
		}
		if rec := bytes.TrimSpace(data[:i]); len(rec) > 0 {
			out = append(out, rec)
		}
		data = data[i+1:]
	}
	return out
}
