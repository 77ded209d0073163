package convert

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidyaai/bidya/fs/ggml"
	"github.com/bidyaai/bidya/lora"
	"github.com/bidyaai/bidya/safetensors"
)

func TestParseTensorsNameLength(t *testing.T) {
	replacer := strings.NewReplacer((&gemma3nModel{}).Replacements()...)
	adapter, err := lora.Load(writeLora(t, qProj))
	require.NoError(t, err)

	tests := []struct {
		name string
		gguf string
		err  error
	}{
		{"model.audio_tower.subsample_conv_projection.input_proj_linear.weight", "a.subsample_conv_projection.input_proj_linear.weight", nil},
		// 63 Bytes sind erlaubt
		{"model.audio_tower." + strings.Repeat("x", 54) + ".weight", "a." + strings.Repeat("x", 54) + ".weight", nil},
		{"model.audio_tower." + strings.Repeat("x", 55) + ".weight", "", ErrTensorName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.safetensors")
			writeSafetensors(t, path, []safetensors.Tensor{
				safetensors.Float32Tensor(tt.name, safetensors.F32, []int64{32}, make([]float32, 32)),
			})

			base, err := safetensors.Open(path)
			require.NoError(t, err)
			defer base.Close()

			ts, err := parseTensors(base, adapter, ggml.TensorTypeQ4_0, replacer)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				assert.Contains(t, err.Error(), "64 bytes")
				return
			}

			require.NoError(t, err)
			require.Len(t, ts, 1)
			assert.Equal(t, tt.gguf, ts[0].Name)
		})
	}
}
