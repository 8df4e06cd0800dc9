package wire

import "fmt"

// FileWrite carries a file mutation. When Length > 0 and Content is empty
// the recipient must treat the message as a notify-only push: the content
// is fetched out-of-band through the remote client, never written as
// zero bytes.
type FileWrite struct {
	Path    string `json:"path" msgpack:"path"`
	ETag    string `json:"etag" msgpack:"etag"`
	Length  int64  `json:"length" msgpack:"length"`
	Content []byte `json:"content,omitempty" msgpack:"content,omitempty"`
}

// Ack resolves a pending outbound message successfully.
type Ack struct {
	OriginalID string `json:"original_id" msgpack:"original_id"`
}

// Nack resolves a pending outbound message with an error.
type Nack struct {
	OriginalID string `json:"original_id" msgpack:"original_id"`
	Error      string `json:"error" msgpack:"error"`
}

// HTTP carries a request or response body addressed by a syft:// URL.
type HTTP struct {
	SyftURL string `json:"syft_url" msgpack:"syft_url"`
	ID      string `json:"id" msgpack:"id"`
	Body    []byte `json:"body,omitempty" msgpack:"body,omitempty"`
}

// ACLManifestEntry is one ordered entry of a Manifest's acl_order list.
type ACLManifestEntry struct {
	Path string `json:"path" msgpack:"path"`
	Hash string `json:"hash" msgpack:"hash"`
}

// ACLManifest enumerates every syft.pub.yaml the recipient should have for
// a datasite, in application order.
type ACLManifest struct {
	Version   int                `json:"version" msgpack:"version"`
	Datasite  string             `json:"datasite" msgpack:"datasite"`
	ForUser   string             `json:"for_user" msgpack:"for_user"`
	ForHash   string             `json:"for_hash" msgpack:"for_hash"`
	Generated int64              `json:"generated" msgpack:"generated"`
	ACLOrder  []ACLManifestEntry `json:"acl_order" msgpack:"acl_order"`
}

// HotlinkOpen requests establishment of a hotlink session for a path.
type HotlinkOpen struct {
	SessionID string `json:"sid" msgpack:"sid"`
	Path      string `json:"pth" msgpack:"pth"`
}

// HotlinkAccept confirms a session is ready to receive data.
type HotlinkAccept struct {
	SessionID string `json:"sid" msgpack:"sid"`
}

// HotlinkReject refuses a session, e.g. because local IPC setup failed.
type HotlinkReject struct {
	SessionID string `json:"sid" msgpack:"sid"`
	Reason    string `json:"rsn,omitempty" msgpack:"rsn,omitempty"`
}

// HotlinkData is one payload frame within a session, sent over the event
// bus when QUIC is unavailable.
type HotlinkData struct {
	SessionID string `json:"sid" msgpack:"sid"`
	Seq       uint64 `json:"seq" msgpack:"seq"`
	Path      string `json:"pth" msgpack:"pth"`
	ETag      string `json:"etg,omitempty" msgpack:"etg,omitempty"`
	Payload   []byte `json:"pay,omitempty" msgpack:"pay,omitempty"`
}

// HotlinkClose tears down a session.
type HotlinkClose struct {
	SessionID string `json:"sid" msgpack:"sid"`
	Reason    string `json:"rsn,omitempty" msgpack:"rsn,omitempty"`
}

// HotlinkSignal carries QUIC offer/answer negotiation out-of-band.
type HotlinkSignal struct {
	SessionID string   `json:"sid" msgpack:"sid"`
	Kind      string   `json:"knd" msgpack:"knd"`
	Addrs     []string `json:"adr,omitempty" msgpack:"adr,omitempty"`
	Token     string   `json:"tok,omitempty" msgpack:"tok,omitempty"`
	Error     string   `json:"err,omitempty" msgpack:"err,omitempty"`
}

func NewFileWrite(path, etag string, length int64, content []byte) *Message {
	return &Message{ID: newID(), Type: TypeFileWrite, Data: &FileWrite{Path: path, ETag: etag, Length: length, Content: content}}
}

func NewAck(originalID string) *Message {
	return &Message{ID: newID(), Type: TypeAck, Data: &Ack{OriginalID: originalID}}
}

func NewNack(originalID, errMsg string) *Message {
	return &Message{ID: newID(), Type: TypeNack, Data: &Nack{OriginalID: originalID, Error: errMsg}}
}

func NewACLManifest(m *ACLManifest) *Message {
	return &Message{ID: newID(), Type: TypeACLManifest, Data: m}
}

func NewHotlinkOpen(sessionID, path string) *Message {
	return &Message{ID: newID(), Type: TypeHotlinkOpen, Data: &HotlinkOpen{SessionID: sessionID, Path: path}}
}

func NewHotlinkAccept(sessionID string) *Message {
	return &Message{ID: newID(), Type: TypeHotlinkAccept, Data: &HotlinkAccept{SessionID: sessionID}}
}

func NewHotlinkReject(sessionID, reason string) *Message {
	return &Message{ID: newID(), Type: TypeHotlinkReject, Data: &HotlinkReject{SessionID: sessionID, Reason: reason}}
}

func NewHotlinkData(sessionID string, seq uint64, path, etag string, payload []byte) *Message {
	return &Message{ID: newID(), Type: TypeHotlinkData, Data: &HotlinkData{SessionID: sessionID, Seq: seq, Path: path, ETag: etag, Payload: payload}}
}

func NewHotlinkClose(sessionID, reason string) *Message {
	return &Message{ID: newID(), Type: TypeHotlinkClose, Data: &HotlinkClose{SessionID: sessionID, Reason: reason}}
}

func NewHotlinkSignal(sessionID, kind string, addrs []string, token, errMsg string) *Message {
	return &Message{ID: newID(), Type: TypeHotlinkSignal, Data: &HotlinkSignal{SessionID: sessionID, Kind: kind, Addrs: addrs, Token: token, Error: errMsg}}
}

// decodePayload unmarshals raw into the struct matching typ using the given
// unmarshal func (json.Unmarshal or a msgpack-backed equivalent). Unknown
// types are a hard error: the set of payload shapes is closed.
func decodePayload(typ Type, raw []byte, unmarshal func([]byte, any) error) (any, error) {
	switch typ {
	case TypeFileWrite, TypeFileNotify:
		var v FileWrite
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeAck:
		var v Ack
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeNack:
		var v Nack
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeHTTP:
		var v HTTP
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeACLManifest:
		var v ACLManifest
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case TypeHotlinkOpen:
		var v HotlinkOpen
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeHotlinkAccept:
		var v HotlinkAccept
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeHotlinkReject:
		var v HotlinkReject
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeHotlinkData:
		var v HotlinkData
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeHotlinkClose:
		var v HotlinkClose
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeHotlinkSignal:
		var v HotlinkSignal
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", typ)
	}
}
