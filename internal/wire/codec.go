package wire

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrUnknownCodec = errors.New("wire: unknown codec")
	ErrDecode       = errors.New("wire: cannot decode envelope")
)

const (
	CodecJSON     = "json"
	CodecProtobuf = "protobuf"
)

var jsonConfig = sonic.ConfigStd

// Codec turns envelopes into frame bytes and back.
type Codec interface {
	Name() string
	ContentType() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

var codecs = map[string]Codec{
	CodecJSON:     JSONCodec{},
	CodecProtobuf: ProtobufCodec{},
}

// CodecFor returns the codec registered under name. An empty name selects
// JSON.
func CodecFor(name string) (Codec, error) {
	if name == "" {
		name = CodecJSON
	}
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownCodec, name, strings.Join(CodecNames(), ", "))
	}
	return c, nil
}

// CodecNames lists the registered codec names in sorted order.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSONCodec encodes envelopes as JSON documents.
type JSONCodec struct{}

func (JSONCodec) Name() string        { return CodecJSON }
func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	return jsonConfig.Marshal(env)
}

func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := jsonConfig.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return env, nil
}

// ProtobufCodec encodes envelopes as a binary google.protobuf.Struct. Numbers
// travel as doubles, so 64-bit integer values beyond 2^53 lose precision;
// use the JSON codec when such values matter.
type ProtobufCodec struct{}

func (ProtobufCodec) Name() string        { return CodecProtobuf }
func (ProtobufCodec) ContentType() string { return "application/x-protobuf" }

func (ProtobufCodec) Encode(env *Envelope) ([]byte, error) {
	raw, err := jsonConfig.Marshal(env)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := jsonConfig.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: project envelope: %w", err)
	}
	return proto.Marshal(st)
}

func (ProtobufCodec) Decode(data []byte) (*Envelope, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw, err := jsonConfig.Marshal(st.AsMap())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	env := &Envelope{}
	if err := jsonConfig.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return env, nil
}
