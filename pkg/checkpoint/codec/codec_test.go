package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
)

type order struct {
	ID    string `json:"id" yaml:"id"`
	Total int    `json:"total" yaml:"total"`
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	for _, cdc := range []codec.Codec{codec.JSON, codec.YAML} {
		cdc := cdc
		t.Run(cdc.Name(), func(t *testing.T) {
			t.Parallel()

			data, err := cdc.Marshal(order{ID: "a-1", Total: 42})
			require.NoError(t, err)

			var got order
			require.NoError(t, cdc.Unmarshal(data, &got))
			assert.Equal(t, order{ID: "a-1", Total: 42}, got)
		})
	}
}

func TestByTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag     string
		want    codec.Codec
		wantErr bool
	}{
		{tag: "json", want: codec.JSON},
		{tag: "yaml", want: codec.YAML},
		{tag: "pipeline.context/v1+yaml", want: codec.YAML},
		{tag: "msgpack", wantErr: true},
		{tag: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := codec.ByTag(tt.tag)
		if tt.wantErr {
			assert.ErrorIs(t, err, codec.ErrUnknownCodec, tt.tag)
			continue
		}
		require.NoError(t, err, tt.tag)
		assert.Equal(t, tt.want, got)
	}
}

func TestStateType(t *testing.T) {
	t.Parallel()

	st := codec.StateType("pipeline.context/v1", codec.JSON)
	assert.Equal(t, "pipeline.context/v1+json", st)

	shape, cdc, err := codec.ParseStateType(st)
	require.NoError(t, err)
	assert.Equal(t, "pipeline.context/v1", shape)
	assert.Equal(t, codec.JSON, cdc)

	_, _, err = codec.ParseStateType("pipeline.context/v1")
	assert.ErrorIs(t, err, codec.ErrUnknownCodec)
}
