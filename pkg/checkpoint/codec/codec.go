// Package codec encodes the state stored in checkpoints.
package codec

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes and decodes values. Name is the tag stored next to the encoded state.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	JSON Codec = jsonCodec{}
	YAML Codec = yamlCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type yamlCodec struct{}

func (yamlCodec) Name() string { return "yaml" }

func (yamlCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// ByTag returns the codec named tag. tag may also be a full state type, see StateType.
func ByTag(tag string) (Codec, error) {
	if i := strings.LastIndexByte(tag, '+'); i >= 0 {
		tag = tag[i+1:]
	}
	switch tag {
	case JSON.Name():
		return JSON, nil
	case YAML.Name():
		return YAML, nil
	default:
		return nil, errors.Wrapf(ErrUnknownCodec, "tag %q", tag)
	}
}

// StateType joins the shape of a state and the codec it is encoded with, e.g. pipeline.context/v1+json.
func StateType(shape string, c Codec) string {
	return shape + "+" + c.Name()
}

// ParseStateType splits a state type built by StateType.
func ParseStateType(stateType string) (string, Codec, error) {
	i := strings.LastIndexByte(stateType, '+')
	if i < 0 {
		return "", nil, errors.Wrapf(ErrUnknownCodec, "state type %q has no codec", stateType)
	}
	c, err := ByTag(stateType[i+1:])
	if err != nil {
		return "", nil, err
	}

	return stateType[:i], c, nil
}
