// gemma3n.go - Gemma 3n: config.json nach GGUF-KV, Tensor-Namen nach GGUF
package convert

import (
	"cmp"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/bidyaai/bidya/fs/ggml"
)

// gemma3nArchitectures sind die Transformers-Klassen, die exportiert werden koennen
var gemma3nArchitectures = []string{
	"Gemma3nForConditionalGeneration",
	"Gemma3nForCausalLM",
}

// gemma3nModel - die Felder der config.json, die in die Metadaten gehen
type gemma3nModel struct {
	TextModel struct {
		ActivationSparsityPattern []float32 `json:"activation_sparsity_pattern"`
		AltupActiveIdx            uint32    `json:"altup_active_idx"`
		AltupCorrectScale         bool      `json:"altup_correct_scale"`
		AltupNumInputs            uint32    `json:"altup_num_inputs"`
		FinalLogitSoftcapping     float32   `json:"final_logit_softcapping"`
		HeadDim                   uint32    `json:"head_dim"`
		HiddenSize                uint32    `json:"hidden_size"`
		HiddenSizePerLayerInput   uint32    `json:"hidden_size_per_layer_input"`
		IntermediateSize          []uint32  `json:"intermediate_size"`
		LaurelRank                uint32    `json:"laurel_rank"`
		LayerTypes                []string  `json:"layer_types"`
		MaxPositionEmbeddings     uint32    `json:"max_position_embeddings"`
		NumAttentionHeads         uint32    `json:"num_attention_heads"`
		NumHiddenLayers           uint32    `json:"num_hidden_layers"`
		NumKeyValueHeads          uint32    `json:"num_key_value_heads"`
		NumKVSharedLayers         uint32    `json:"num_kv_shared_layers"`
		RMSNormEPS                float32   `json:"rms_norm_eps"`
		RopeLocalBaseFreq         float32   `json:"rope_local_base_freq"`
		RopeTheta                 float32   `json:"rope_theta"`
		SlidingWindow             uint32    `json:"sliding_window"`
		VocabSize                 uint32    `json:"vocab_size"`
	} `json:"text_config"`

	VisionModel struct {
		HiddenSize uint32 `json:"hidden_size"`
	} `json:"vision_config"`

	AudioModel struct {
		HiddenSize uint32 `json:"hidden_size"`
	} `json:"audio_config"`
}

// KV gibt die gemma3n.* Eintraege zurueck. contextLength ist die
// maximale KV-Cache-Laenge des Exports.
func (m *gemma3nModel) KV(contextLength uint32) ggml.KV {
	t := m.TextModel

	kv := ggml.KV{
		"general.architecture":           "gemma3n",
		"gemma3n.context_length":         contextLength,
		"gemma3n.embedding_length":       t.HiddenSize,
		"gemma3n.block_count":            t.NumHiddenLayers,
		"gemma3n.feed_forward_length":    t.IntermediateSize,
		"gemma3n.vocab_size":             t.VocabSize,
		"gemma3n.altup.active_idx":       t.AltupActiveIdx,
		"gemma3n.altup.correct_scale":    t.AltupCorrectScale,
		"gemma3n.altup.num_inputs":       t.AltupNumInputs,
		"gemma3n.laurel_rank":            t.LaurelRank,
		"gemma3n.rope.freq_base":         cmp.Or(t.RopeTheta, 1_000_000),
		"gemma3n.rope.freq_base_local":   cmp.Or(t.RopeLocalBaseFreq, 10_000),
		"gemma3n.final_logit_softcap":    t.FinalLogitSoftcapping,
		"gemma3n.max_position_embedding": t.MaxPositionEmbeddings,

		"gemma3n.embedding_length_per_layer_input": t.HiddenSizePerLayerInput,

		"gemma3n.attention.head_count":             t.NumAttentionHeads,
		"gemma3n.attention.head_count_kv":          t.NumKeyValueHeads,
		"gemma3n.attention.key_length":             t.HeadDim,
		"gemma3n.attention.value_length":           t.HeadDim,
		"gemma3n.attention.layer_norm_rms_epsilon": cmp.Or(t.RMSNormEPS, 1e-6),
		"gemma3n.attention.sliding_window":         t.SlidingWindow,
		"gemma3n.attention.shared_kv_layers":       t.NumKVSharedLayers,
	}

	if len(t.LayerTypes) > 0 {
		kv["gemma3n.attention.sliding_window_pattern"] = slices.Collect(func(yield func(bool) bool) {
			for _, lt := range t.LayerTypes {
				if !yield(lt == "sliding_attention") {
					break
				}
			}
		})
	}

	if len(t.ActivationSparsityPattern) > 0 {
		kv["gemma3n.activation_sparsity_scale"] = activationSparsityScale(t.ActivationSparsityPattern)
	}

	if m.VisionModel.HiddenSize > 0 {
		kv["gemma3n.vision.embedding_length"] = m.VisionModel.HiddenSize
	}
	if m.AudioModel.HiddenSize > 0 {
		kv["gemma3n.audio.embedding_length"] = m.AudioModel.HiddenSize
	}

	// Leere Felder nicht schreiben
	for k, v := range kv {
		switch v := v.(type) {
		case uint32:
			if v == 0 {
				delete(kv, k)
			}
		case []uint32:
			if len(v) == 0 {
				delete(kv, k)
			}
		}
	}

	return kv
}

// activationSparsityScale wandelt die Sparsity-Zielwerte in Quantile der
// Standardnormalverteilung um. 0 bedeutet keine Sparsity.
func activationSparsityScale(pattern []float32) []float32 {
	norm := distuv.Normal{Mu: 0, Sigma: 1}

	scale := make([]float32, len(pattern))
	for i, p := range pattern {
		if p > 0 {
			scale[i] = float32(norm.Quantile(float64(p)))
		}
	}
	return scale
}

func (m *gemma3nModel) specialTokenTypes() []string {
	return []string{"bos", "eos", "unk", "pad"}
}

// Replacements bildet Transformers-Namen auf GGUF-Namen ab.
// Laengere Praefixe stehen vor kuerzeren, strings.Replacer prueft in Argument-Reihenfolge.
func (m *gemma3nModel) Replacements() []string {
	return []string{
		"model.language_model.embed_tokens_per_layer", "per_layer_token_embd",
		"model.language_model.embed_tokens", "token_embd",
		"model.language_model.per_layer_model_projection", "per_layer_model_proj",
		"model.language_model.per_layer_projection_norm", "per_layer_proj_norm",
		"model.language_model.altup_projections", "altup_proj",
		"model.language_model.altup_unembed_projections", "altup_unembd_proj",
		"model.language_model.norm", "output_norm",
		"model.language_model.layers", "blk",
		"model.language_model.", "",
		"model.vision_tower.timm_model", "v",
		"model.audio_tower", "a",
		"model.embed_vision", "mm",
		"model.embed_audio", "mm.a",
		"lm_head", "output",
		"self_attn.q_proj", "attn_q",
		"self_attn.k_proj", "attn_k",
		"self_attn.v_proj", "attn_v",
		"self_attn.o_proj", "attn_output",
		"self_attn.q_norm", "attn_q_norm",
		"self_attn.k_norm", "attn_k_norm",
		"mlp.gate_proj", "ffn_gate",
		"mlp.up_proj", "ffn_up",
		"mlp.down_proj", "ffn_down",
		"post_attention_layernorm", "post_attention_norm",
		"pre_feedforward_layernorm", "ffn_norm",
		"post_feedforward_layernorm", "post_ffw_norm",
		"input_layernorm", "attn_norm",
		"altup.correct_output_scale", "altup_correct_scale",
		"altup.correction_coefs", "altup_correct_coef",
		"altup.prediction_coefs", "altup_predict_coef",
		"altup.modality_router", "altup_router",
		"altup.router_norm", "altup_router_norm",
		"laurel.linear_left", "laurel_l",
		"laurel.linear_right", "laurel_r",
		"laurel.post_laurel_norm", "laurel_post_norm",
		"per_layer_input_gate", "inp_gate",
		"per_layer_projection", "proj",
		"post_per_layer_input_norm", "post_norm",
		"relative_position_embedding", "rel_pos",
		"attention.attn", "attn",
	}
}

// towers gibt an, ob Vision- und Audio-Encoder unter den GGUF-Namen vorkommen
func towers(names []string) (vision, audio bool) {
	for _, name := range names {
		vision = vision || strings.HasPrefix(name, "v.")
		audio = audio || strings.HasPrefix(name, "a.")
	}
	return vision, audio
}
