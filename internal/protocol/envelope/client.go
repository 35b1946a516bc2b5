package envelope

import (
	"fmt"
)

// ClientHeader names a client-originated package variant.
type ClientHeader string

const (
	HeaderAuthorization   ClientHeader = "Authorization"
	HeaderDeAuthorization ClientHeader = "DeAuthorization"
	HeaderNewMessage      ClientHeader = "NewMessage"
	HeaderGetChats        ClientHeader = "GetChats"
	HeaderGetChatMessages ClientHeader = "GetChatMessages"
	HeaderPinMessage      ClientHeader = "PinMessage"
	HeaderLeaveChat       ClientHeader = "LeaveChat"
)

// ClientPackage is the closed set of packages a client may send.
type ClientPackage interface {
	ClientHeader() ClientHeader
	isClientPackage()
}

type (
	Authorization struct {
		Token string `cbor:"token"`
	}

	DeAuthorization struct{}

	NewMessage struct {
		ChatID  string `cbor:"chat_id"`
		Content []byte `cbor:"content"`
	}

	GetChats struct {
		ChatCount    int    `cbor:"chat_count"`
		MessageCount int    `cbor:"message_count"`
		FromID       string `cbor:"from_id,omitempty"`
	}

	GetChatMessages struct {
		ChatID       string `cbor:"chat_id"`
		MessageCount int    `cbor:"message_count"`
		PinnedOnly   bool   `cbor:"pinned_only,omitempty"`
		FromID       string `cbor:"from_id,omitempty"`
	}

	PinMessage struct {
		MessageID string `cbor:"message_id"`
	}

	LeaveChat struct {
		ChatID string `cbor:"chat_id"`
	}

	// ClientEnvelope pairs a package with the correlation id the server
	// echoes back in its Acknowledgement.
	ClientEnvelope struct {
		ID      string
		Package ClientPackage
	}
)

func (Authorization) ClientHeader() ClientHeader   { return HeaderAuthorization }
func (DeAuthorization) ClientHeader() ClientHeader { return HeaderDeAuthorization }
func (NewMessage) ClientHeader() ClientHeader      { return HeaderNewMessage }
func (GetChats) ClientHeader() ClientHeader        { return HeaderGetChats }
func (GetChatMessages) ClientHeader() ClientHeader { return HeaderGetChatMessages }
func (PinMessage) ClientHeader() ClientHeader      { return HeaderPinMessage }
func (LeaveChat) ClientHeader() ClientHeader       { return HeaderLeaveChat }

func (Authorization) isClientPackage()   {}
func (DeAuthorization) isClientPackage() {}
func (NewMessage) isClientPackage()      {}
func (GetChats) isClientPackage()        {}
func (GetChatMessages) isClientPackage() {}
func (PinMessage) isClientPackage()      {}
func (LeaveChat) isClientPackage()       {}

func newClientPackage(h ClientHeader) (ClientPackage, error) {
	switch h {
	case HeaderAuthorization:
		return &Authorization{}, nil
	case HeaderDeAuthorization:
		return &DeAuthorization{}, nil
	case HeaderNewMessage:
		return &NewMessage{}, nil
	case HeaderGetChats:
		return &GetChats{}, nil
	case HeaderGetChatMessages:
		return &GetChatMessages{}, nil
	case HeaderPinMessage:
		return &PinMessage{}, nil
	case HeaderLeaveChat:
		return &LeaveChat{}, nil
	default:
		return nil, fmt.Errorf("%w: client header %q", ErrUnknownHeader, h)
	}
}

// EncodeClient serializes a client envelope for the wire.
func EncodeClient(env ClientEnvelope) ([]byte, error) {
	if env.Package == nil {
		return nil, fmt.Errorf("%w: nil package", ErrMalformed)
	}
	body, err := marshal(env.Package)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", env.Package.ClientHeader(), err)
	}
	return marshal(frame{
		ID:     env.ID,
		Header: string(env.Package.ClientHeader()),
		Body:   body,
	})
}

// DecodeClient parses one frame received from a client. Frames without a
// correlation id are malformed; unknown headers yield ErrUnknownHeader.
func DecodeClient(data []byte) (ClientEnvelope, error) {
	var f frame
	if err := unmarshal(data, &f); err != nil {
		return ClientEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.ID == "" {
		return ClientEnvelope{}, fmt.Errorf("%w: missing correlation id", ErrMalformed)
	}

	pkg, err := newClientPackage(ClientHeader(f.Header))
	if err != nil {
		return ClientEnvelope{ID: f.ID}, err
	}
	if len(f.Body) > 0 {
		if err := unmarshal(f.Body, pkg); err != nil {
			return ClientEnvelope{ID: f.ID}, fmt.Errorf("%w: %s body: %v", ErrMalformed, f.Header, err)
		}
	}

	return ClientEnvelope{ID: f.ID, Package: deref(pkg)}, nil
}

// deref turns the pointer used for decoding back into the value form that
// callers switch on.
func deref(p ClientPackage) ClientPackage {
	switch v := p.(type) {
	case *Authorization:
		return *v
	case *DeAuthorization:
		return *v
	case *NewMessage:
		return *v
	case *GetChats:
		return *v
	case *GetChatMessages:
		return *v
	case *PinMessage:
		return *v
	case *LeaveChat:
		return *v
	}
	return p
}
