package envelope

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// Core Deterministic Encoding: sorted map keys, shortest integers, no
	// indefinite-length items.
	encMode cbor.EncMode

	// Unknown fields are ignored so newer peers can add payload fields.
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("envelope: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("envelope: CBOR decoder initialization failed: " + err.Error())
	}
}

// frame is the wire shape shared by both directions.
type frame struct {
	ID     string          `cbor:"id"`
	Header string          `cbor:"header"`
	Body   cbor.RawMessage `cbor:"body,omitempty"`
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
