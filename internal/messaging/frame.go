package messaging

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Gossip frame fields. Unknown fields are skipped on decode.
const (
	frameFieldID      protowire.Number = 1
	frameFieldOrigin  protowire.Number = 2
	frameFieldSubject protowire.Number = 3
	frameFieldPayload protowire.Number = 4
)

type frame struct {
	ID      string
	Origin  string
	Subject string
	Payload []byte
}

func (f frame) marshal() []byte {
	b := make([]byte, 0, len(f.ID)+len(f.Origin)+len(f.Subject)+len(f.Payload)+16)
	b = protowire.AppendTag(b, frameFieldID, protowire.BytesType)
	b = protowire.AppendString(b, f.ID)
	b = protowire.AppendTag(b, frameFieldOrigin, protowire.BytesType)
	b = protowire.AppendString(b, f.Origin)
	b = protowire.AppendTag(b, frameFieldSubject, protowire.BytesType)
	b = protowire.AppendString(b, f.Subject)
	b = protowire.AppendTag(b, frameFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)
	return b
}

// unmarshalFrame decodes data. Payload aliases data.
func unmarshalFrame(data []byte) (frame, error) {
	var f frame
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return frame{}, fmt.Errorf("%w: %v", ErrFrameTruncated, protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %v", ErrFrameTruncated, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return frame{}, fmt.Errorf("%w: %v", ErrFrameTruncated, protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case frameFieldID:
			f.ID = string(v)
		case frameFieldOrigin:
			f.Origin = string(v)
		case frameFieldSubject:
			f.Subject = string(v)
		case frameFieldPayload:
			f.Payload = v
		}
	}
	if f.Subject == "" {
		return frame{}, ErrEmptySubject
	}
	return f, nil
}
