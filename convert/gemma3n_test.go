package convert

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestGemma3nReplacements(t *testing.T) {
	var m gemma3nModel
	r := strings.NewReplacer(m.Replacements()...)

	cases := map[string]string{
		"model.language_model.embed_tokens.weight":                                                 "token_embd.weight",
		"model.language_model.embed_tokens_per_layer.weight":                                       "per_layer_token_embd.weight",
		"model.language_model.per_layer_model_projection.weight":                                   "per_layer_model_proj.weight",
		"model.language_model.per_layer_projection_norm.weight":                                    "per_layer_proj_norm.weight",
		"model.language_model.altup_projections.0.weight":                                          "altup_proj.0.weight",
		"model.language_model.altup_unembed_projections.2.weight":                                  "altup_unembd_proj.2.weight",
		"model.language_model.norm.weight":                                                         "output_norm.weight",
		"model.language_model.layers.3.self_attn.q_proj.weight":                                    "blk.3.attn_q.weight",
		"model.language_model.layers.3.self_attn.o_proj.weight":                                    "blk.3.attn_output.weight",
		"model.language_model.layers.3.self_attn.k_norm.weight":                                    "blk.3.attn_k_norm.weight",
		"model.language_model.layers.3.mlp.gate_proj.weight":                                       "blk.3.ffn_gate.weight",
		"model.language_model.layers.3.input_layernorm.weight":                                     "blk.3.attn_norm.weight",
		"model.language_model.layers.3.post_attention_layernorm.weight":                            "blk.3.post_attention_norm.weight",
		"model.language_model.layers.3.pre_feedforward_layernorm.weight":                           "blk.3.ffn_norm.weight",
		"model.language_model.layers.3.post_feedforward_layernorm.weight":                          "blk.3.post_ffw_norm.weight",
		"model.language_model.layers.3.altup.correction_coefs.weight":                              "blk.3.altup_correct_coef.weight",
		"model.language_model.layers.3.altup.modality_router.weight":                               "blk.3.altup_router.weight",
		"model.language_model.layers.3.laurel.linear_left.weight":                                  "blk.3.laurel_l.weight",
		"model.language_model.layers.3.laurel.post_laurel_norm.weight":                             "blk.3.laurel_post_norm.weight",
		"model.language_model.layers.3.per_layer_input_gate.weight":                                "blk.3.inp_gate.weight",
		"model.language_model.layers.3.per_layer_projection.weight":                                "blk.3.proj.weight",
		"model.language_model.layers.3.post_per_layer_input_norm.weight":                           "blk.3.post_norm.weight",
		"model.vision_tower.timm_model.blocks.0.0.conv_exp.weight":                                 "v.blocks.0.0.conv_exp.weight",
		"model.audio_tower.conformer.0.attention.attn.q_proj.weight":                               "a.conformer.0.attn.q_proj.weight",
		"model.audio_tower.conformer.0.attention.attn.relative_position_embedding.pos_proj.weight": "a.conformer.0.attn.rel_pos.pos_proj.weight",
		"model.embed_vision.embedding_projection.weight":                                           "mm.embedding_projection.weight",
		"model.embed_audio.embedding_projection.weight":                                            "mm.a.embedding_projection.weight",
	}

	for in, want := range cases {
		if got := r.Replace(in); got != want {
			t.Errorf("Replace(%q) = %q, erwartet %q", in, got, want)
		}
	}
}

func TestGemma3nKV(t *testing.T) {
	var m gemma3nModel
	if err := json.Unmarshal([]byte(`{
		"architectures": ["Gemma3nForConditionalGeneration"],
		"text_config": {
			"hidden_size": 2048,
			"num_hidden_layers": 3,
			"num_attention_heads": 8,
			"num_key_value_heads": 2,
			"head_dim": 256,
			"hidden_size_per_layer_input": 256,
			"intermediate_size": [8192, 8192, 8192],
			"layer_types": ["sliding_attention", "sliding_attention", "full_attention"],
			"activation_sparsity_pattern": [0.95, 0.0, 0.0],
			"altup_num_inputs": 4,
			"num_kv_shared_layers": 1,
			"rope_theta": 1000000.0
		},
		"audio_config": {"hidden_size": 1536}
	}`), &m); err != nil {
		t.Fatal(err)
	}

	kv := m.KV(2048)

	want := map[string]any{
		"general.architecture":                     "gemma3n",
		"gemma3n.context_length":                   uint32(2048),
		"gemma3n.embedding_length":                 uint32(2048),
		"gemma3n.block_count":                      uint32(3),
		"gemma3n.feed_forward_length":              []uint32{8192, 8192, 8192},
		"gemma3n.embedding_length_per_layer_input": uint32(256),
		"gemma3n.attention.head_count":             uint32(8),
		"gemma3n.attention.head_count_kv":          uint32(2),
		"gemma3n.attention.key_length":             uint32(256),
		"gemma3n.attention.shared_kv_layers":       uint32(1),
		"gemma3n.attention.sliding_window_pattern": []bool{true, true, false},
		"gemma3n.attention.layer_norm_rms_epsilon": float32(1e-6),
		"gemma3n.altup.num_inputs":                 uint32(4),
		"gemma3n.rope.freq_base_local":             float32(10_000),
		"gemma3n.audio.embedding_length":           uint32(1536),
	}
	for k, v := range want {
		if diff := cmp.Diff(v, kv[k]); diff != "" {
			t.Errorf("%s (-want +got):\n%s", k, diff)
		}
	}

	scale, _ := kv["gemma3n.activation_sparsity_scale"].([]float32)
	if diff := cmp.Diff([]float32{1.6448536, 0, 0}, scale, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("activation_sparsity_scale (-want +got):\n%s", diff)
	}

	for _, k := range []string{"gemma3n.attention.sliding_window", "gemma3n.vision.embedding_length", "gemma3n.laurel_rank"} {
		if _, ok := kv[k]; ok {
			t.Errorf("%s gesetzt, erwartet fehlend", k)
		}
	}
}

func TestTowers(t *testing.T) {
	vision, audio := towers([]string{"token_embd.weight", "v.blocks.0.weight", "mm.a.embedding_projection.weight"})
	if !vision || audio {
		t.Errorf("towers() = %v, %v, erwartet true, false", vision, audio)
	}
}
