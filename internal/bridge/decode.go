package bridge

import (
	"strings"
	"unicode/utf8"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

// DecodePolicy selects how a Data fragment that ends mid-character is handled.
type DecodePolicy uint8

const (
	// DecodeBuffered holds an incomplete trailing sequence until the next
	// fragment arrives and decodes it then.
	DecodeBuffered DecodePolicy = iota
	// DecodeStrict decodes every fragment on its own. An incomplete trailing
	// sequence is reported as a decode error.
	DecodeStrict
)

// Decoder converts a session's inbound byte fragments to text.
type Decoder struct {
	policy  DecodePolicy
	pending []byte
}

// NewDecoder returns a decoder using policy.
func NewDecoder(policy DecodePolicy) *Decoder {
	return &Decoder{policy: policy}
}

// Decode returns the valid text in p. Invalid bytes are left out of the
// text and reported together as a *model.DecodeError.
func (d *Decoder) Decode(p []byte) (string, error) {
	buf := p
	if len(d.pending) > 0 {
		buf = append(d.pending, p...)
		d.pending = nil
	}

	var (
		text    strings.Builder
		invalid []byte
	)
	text.Grow(len(buf))

	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRune(buf[i:])
		if r != utf8.RuneError || size > 1 {
			text.Write(buf[i : i+size])
			i += size
			continue
		}
		if !utf8.FullRune(buf[i:]) {
			if d.policy == DecodeBuffered {
				d.pending = append([]byte(nil), buf[i:]...)
			} else {
				invalid = append(invalid, buf[i:]...)
			}
			break
		}
		invalid = append(invalid, buf[i])
		i++
	}

	if len(invalid) > 0 {
		return text.String(), &model.DecodeError{Bytes: invalid}
	}
	return text.String(), nil
}

// Flush reports any incomplete sequence still held at end of stream.
func (d *Decoder) Flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	err := &model.DecodeError{Bytes: d.pending}
	d.pending = nil
	return err
}
