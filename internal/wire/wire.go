package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks inbound payloads that must be dropped.
var ErrMalformed = errors.New("malformed payload")

// Type is the discriminator of a chat topic payload.
type Type string

const (
	TypeText   Type = "text"
	TypeImage  Type = "image"
	TypeTyping Type = "typing"
)

// Payload is one record on a chat topic. Exactly one of Text and Image is set
// for content payloads; neither is set for typing.
type Payload struct {
	Type  Type   `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// IsControl reports whether the payload is a control signal rather than chat content.
func (p Payload) IsControl() bool {
	return p.Type == TypeTyping
}

// Text builds a text payload.
func Text(body string) Payload {
	return Payload{Type: TypeText, Text: body}
}

// Image builds an image payload carrying an opaque attachment reference.
func Image(ref string) Payload {
	return Payload{Type: TypeImage, Image: ref}
}

// Typing builds the typing control payload.
func Typing() Payload {
	return Payload{Type: TypeTyping}
}

// Encode validates and serializes the payload.
func (p Payload) Encode() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Decode parses a raw chat topic payload. Anything that is not a well formed
// text, image or typing record returns an error wrapping ErrMalformed.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func (p Payload) validate() error {
	switch p.Type {
	case TypeText:
		if p.Text == "" || p.Image != "" {
			return fmt.Errorf("%w: text payload needs text and no image", ErrMalformed)
		}
	case TypeImage:
		if p.Image == "" || p.Text != "" {
			return fmt.Errorf("%w: image payload needs image and no text", ErrMalformed)
		}
	case TypeTyping:
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, p.Type)
	}
	return nil
}
