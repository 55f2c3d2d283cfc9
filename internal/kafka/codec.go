package kafka

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzzdr/options-risk-desk/pkg/models"
	apperrors "github.com/rzzdr/options-risk-desk/pkg/utils/errors"
)

// Snapshot encodings
const (
	EncodingJSON     = "json"
	EncodingProtobuf = "protobuf"
)

const (
	contentTypeJSON     = "application/json"
	contentTypeProtobuf = "application/x-protobuf; messageType=google.protobuf.Struct"
)

// Codec turns snapshots into message payloads and back
type Codec interface {
	ContentType() string
	Encode(snapshot *models.DeskSnapshot) ([]byte, error)
	Decode(data []byte) (*models.DeskSnapshot, error)
}

// NewCodec returns the codec for an encoding name
func NewCodec(encoding string) (Codec, error) {
	switch encoding {
	case EncodingJSON, "":
		return jsonCodec{}, nil
	case EncodingProtobuf:
		return structCodec{}, nil
	}
	return nil, apperrors.InvalidArgumentf("unsupported snapshot encoding %q", encoding)
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return contentTypeJSON }

func (jsonCodec) Encode(snapshot *models.DeskSnapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to serialize snapshot to JSON")
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (*models.DeskSnapshot, error) {
	var snapshot models.DeskSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode JSON snapshot")
	}
	return &snapshot, nil
}

// structCodec carries the snapshot as a google.protobuf.Struct, so consumers
// need no generated types to read it.
type structCodec struct{}

func (structCodec) ContentType() string { return contentTypeProtobuf }

func (structCodec) Encode(snapshot *models.DeskSnapshot) ([]byte, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to serialize snapshot")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, apperrors.Wrap(err, "failed to flatten snapshot")
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build protobuf struct")
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal protobuf struct")
	}
	return data, nil
}

func (structCodec) Decode(data []byte) (*models.DeskSnapshot, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal protobuf struct")
	}
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to re-encode protobuf struct")
	}

	var snapshot models.DeskSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode protobuf snapshot")
	}
	return &snapshot, nil
}

// DecodeCommand parses a JSON desk command
func DecodeCommand(data []byte) (models.DeskCommand, error) {
	var cmd models.DeskCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return models.DeskCommand{}, apperrors.Wrapf(err, "failed to decode desk command of %d bytes", len(data))
	}
	return cmd, nil
}
