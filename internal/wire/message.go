// Package wire implements the daemon's envelope format: a small tagged-sum
// message type shared between JSON and packed (msgpack) encodings.
package wire

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Type identifies the payload carried in a Message's Data field.
type Type uint16

const (
	TypeFileWrite Type = iota + 2
	TypeAck
	TypeNack
	TypeHTTP
	TypeFileNotify
	TypeACLManifest
	TypeHotlinkOpen
	TypeHotlinkAccept
	TypeHotlinkReject
	TypeHotlinkData
	TypeHotlinkClose
	TypeHotlinkSignal
)

func (t Type) String() string {
	switch t {
	case TypeFileWrite:
		return "FILE_WRITE"
	case TypeAck:
		return "ACK"
	case TypeNack:
		return "NACK"
	case TypeHTTP:
		return "HTTP"
	case TypeFileNotify:
		return "FILE_NOTIFY"
	case TypeACLManifest:
		return "ACL_MANIFEST"
	case TypeHotlinkOpen:
		return "HOTLINK_OPEN"
	case TypeHotlinkAccept:
		return "HOTLINK_ACCEPT"
	case TypeHotlinkReject:
		return "HOTLINK_REJECT"
	case TypeHotlinkData:
		return "HOTLINK_DATA"
	case TypeHotlinkClose:
		return "HOTLINK_CLOSE"
	case TypeHotlinkSignal:
		return "HOTLINK_SIGNAL"
	default:
		return fmt.Sprintf("???(%d)", t)
	}
}

// Message is the logical envelope carried over the event bus in either
// wire encoding. Data holds one of the Type-specific payload structs.
type Message struct {
	ID   string `json:"id"`
	Type Type   `json:"typ"`
	Data any    `json:"dat"`
}

// UnmarshalJSON resolves Data to the concrete payload type for msg.Type.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID   string          `json:"id"`
		Type Type            `json:"typ"`
		Data json.RawMessage `json:"dat"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Type = raw.Type

	data, err := decodePayload(raw.Type, raw.Data, json.Unmarshal)
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}

func newID() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
