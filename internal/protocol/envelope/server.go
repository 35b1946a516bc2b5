package envelope

import (
	"fmt"
)

// ServerHeader names a server-originated package variant. Server headers
// never share meaning with client headers, even where the names match.
type ServerHeader string

const (
	HeaderChatMessage     ServerHeader = "NewMessage"
	HeaderSyncResponse    ServerHeader = "SyncResponse"
	HeaderAcknowledgement ServerHeader = "Acknowledgement"
	HeaderError           ServerHeader = "Error"
	HeaderMessagePinned   ServerHeader = "MessagePinned"
	HeaderMemberLeft      ServerHeader = "MemberLeft"
)

type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckError   AckStatus = "error"
)

// ServerPackage is the closed set of packages the server may push.
type ServerPackage interface {
	ServerHeader() ServerHeader
	isServerPackage()
}

type (
	ChatMessage struct {
		ID        string `cbor:"id"`
		ChatID    string `cbor:"chat_id"`
		UserID    string `cbor:"user_id"`
		Content   []byte `cbor:"content"`
		Pinned    bool   `cbor:"pinned,omitempty"`
		CreatedAt int64  `cbor:"created_at"` // unix millis
	}

	ChatInfo struct {
		ID      string   `cbor:"id"`
		Name    string   `cbor:"name"`
		Members []string `cbor:"members"`
	}

	ChatMessages struct {
		Chat     ChatInfo      `cbor:"chat"`
		Messages []ChatMessage `cbor:"messages"`
	}

	AckDetails struct {
		Status AckStatus `cbor:"status"`
		Reason string    `cbor:"reason,omitempty"`
	}

	NewMessageEvent struct {
		ChatMessage ChatMessage `cbor:"chat_message"`
	}

	SyncResponse struct {
		ChatMessages []ChatMessages `cbor:"chat_messages"`
	}

	Acknowledgement struct {
		PackageID string     `cbor:"package_id"`
		Details   AckDetails `cbor:"details"`
	}

	ErrorEvent struct {
		ErrorMessage string `cbor:"error_message"`
	}

	MessagePinnedEvent struct {
		ChatID    string `cbor:"chat_id"`
		MessageID string `cbor:"message_id"`
		Pinned    bool   `cbor:"pinned"`
	}

	MemberLeftEvent struct {
		ChatID string `cbor:"chat_id"`
		UserID string `cbor:"user_id"`
	}

	ServerEnvelope struct {
		ID      string
		Package ServerPackage
	}
)

func Success() AckDetails {
	return AckDetails{Status: AckSuccess}
}

func Failure(reason string) AckDetails {
	return AckDetails{Status: AckError, Reason: reason}
}

func (d AckDetails) Succeeded() bool {
	return d.Status == AckSuccess
}

func (NewMessageEvent) ServerHeader() ServerHeader    { return HeaderChatMessage }
func (SyncResponse) ServerHeader() ServerHeader       { return HeaderSyncResponse }
func (Acknowledgement) ServerHeader() ServerHeader    { return HeaderAcknowledgement }
func (ErrorEvent) ServerHeader() ServerHeader         { return HeaderError }
func (MessagePinnedEvent) ServerHeader() ServerHeader { return HeaderMessagePinned }
func (MemberLeftEvent) ServerHeader() ServerHeader    { return HeaderMemberLeft }

func (NewMessageEvent) isServerPackage()    {}
func (SyncResponse) isServerPackage()       {}
func (Acknowledgement) isServerPackage()    {}
func (ErrorEvent) isServerPackage()         {}
func (MessagePinnedEvent) isServerPackage() {}
func (MemberLeftEvent) isServerPackage()    {}

// NewServer wraps pkg in an envelope with a fresh id.
func NewServer(pkg ServerPackage) ServerEnvelope {
	return ServerEnvelope{ID: NewID(), Package: pkg}
}

func EncodeServer(env ServerEnvelope) ([]byte, error) {
	if env.Package == nil {
		return nil, fmt.Errorf("%w: nil package", ErrMalformed)
	}
	body, err := marshal(env.Package)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", env.Package.ServerHeader(), err)
	}
	return marshal(frame{
		ID:     env.ID,
		Header: string(env.Package.ServerHeader()),
		Body:   body,
	})
}

func DecodeServer(data []byte) (ServerEnvelope, error) {
	var f frame
	if err := unmarshal(data, &f); err != nil {
		return ServerEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		pkg ServerPackage
		err error
	)
	switch ServerHeader(f.Header) {
	case HeaderChatMessage:
		var p NewMessageEvent
		err = unmarshalBody(f.Body, &p)
		pkg = p
	case HeaderSyncResponse:
		var p SyncResponse
		err = unmarshalBody(f.Body, &p)
		pkg = p
	case HeaderAcknowledgement:
		var p Acknowledgement
		err = unmarshalBody(f.Body, &p)
		pkg = p
	case HeaderError:
		var p ErrorEvent
		err = unmarshalBody(f.Body, &p)
		pkg = p
	case HeaderMessagePinned:
		var p MessagePinnedEvent
		err = unmarshalBody(f.Body, &p)
		pkg = p
	case HeaderMemberLeft:
		var p MemberLeftEvent
		err = unmarshalBody(f.Body, &p)
		pkg = p
	default:
		return ServerEnvelope{ID: f.ID}, fmt.Errorf("%w: server header %q", ErrUnknownHeader, f.Header)
	}
	if err != nil {
		return ServerEnvelope{ID: f.ID}, fmt.Errorf("%w: %s body: %v", ErrMalformed, f.Header, err)
	}

	return ServerEnvelope{ID: f.ID, Package: pkg}, nil
}

func unmarshalBody(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	return unmarshal(body, v)
}
