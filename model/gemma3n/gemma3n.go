// Package gemma3n - Einstiegspunkte eines exportierten Gemma 3n Modells
//
// Der Wrapper rechnet selbst nichts, er reicht an das Modell durch:
// - TextPrefill: Prompt ohne Cache, liefert Logits und KV-Cache
// - TextDecode: ein Schritt mit vorhandenem Cache
// - VisionEncode / AudioEncode: Encoder, falls das Modell sie hat
// - Signatures: Namen der Einstiegspunkte fuer die Export-Metadaten
package gemma3n

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdevine/tensor"
)

// Fehler-Definitionen
var (
	ErrNilModel        = errors.New("gemma3n: model is nil")
	ErrNoVisionEncoder = errors.New("gemma3n: model has no vision encoder")
	ErrNoAudioEncoder  = errors.New("gemma3n: model has no audio encoder")
)

// Namen der Einstiegspunkte
const (
	SignaturePrefill = "prefill"
	SignatureDecode  = "decode"
	SignatureVision  = "vision_encode"
	SignatureAudio   = "audio_encode"
)

// Cache ist der KV-Cache eines Modells; nur das Modell kennt seinen Inhalt
type Cache any

// Output ist das Ergebnis eines Forward-Aufrufs
type Output struct {
	Logits tensor.Tensor
	Cache  Cache
}

// Model ist ein kausales Sprachmodell mit KV-Cache
type Model interface {
	// Forward verarbeitet ids [batch, seq]. cache ist nil beim Prefill.
	Forward(ctx context.Context, ids tensor.Tensor, cache Cache) (*Output, error)
}

// VisionEncoder ist ein optionales Interface fuer Bild-Embeddings
type VisionEncoder interface {
	EncodeVision(ctx context.Context, pixels tensor.Tensor) (tensor.Tensor, error)
}

// AudioEncoder ist ein optionales Interface fuer Audio-Embeddings
type AudioEncoder interface {
	EncodeAudio(ctx context.Context, audio tensor.Tensor) (tensor.Tensor, error)
}

// Wrapper stellt die Einstiegspunkte eines Model bereit
type Wrapper struct {
	model Model
}

// New erstellt einen Wrapper um m
func New(m Model) (*Wrapper, error) {
	if m == nil {
		return nil, ErrNilModel
	}
	return &Wrapper{model: m}, nil
}

// Model gibt das umschlossene Modell zurueck
func (w *Wrapper) Model() Model {
	return w.model
}

// TextPrefill verarbeitet den Prompt ohne Cache
func (w *Wrapper) TextPrefill(ctx context.Context, ids tensor.Tensor) (tensor.Tensor, Cache, error) {
	return w.forward(ctx, ids, nil)
}

// TextDecode verarbeitet die naechsten Token mit dem Cache eines vorherigen Aufrufs
func (w *Wrapper) TextDecode(ctx context.Context, ids tensor.Tensor, cache Cache) (tensor.Tensor, Cache, error) {
	return w.forward(ctx, ids, cache)
}

func (w *Wrapper) forward(ctx context.Context, ids tensor.Tensor, cache Cache) (tensor.Tensor, Cache, error) {
	out, err := w.model.Forward(ctx, ids, cache)
	if out == nil {
		return nil, nil, err
	}
	return out.Logits, out.Cache, err
}

// VisionEncode gibt die Bild-Embeddings des Modells zurueck
func (w *Wrapper) VisionEncode(ctx context.Context, pixels tensor.Tensor) (tensor.Tensor, error) {
	enc, ok := w.model.(VisionEncoder)
	if !ok {
		return nil, fmt.Errorf("%w (%T)", ErrNoVisionEncoder, w.model)
	}
	return enc.EncodeVision(ctx, pixels)
}

// AudioEncode gibt die Audio-Embeddings des Modells zurueck
func (w *Wrapper) AudioEncode(ctx context.Context, audio tensor.Tensor) (tensor.Tensor, error) {
	enc, ok := w.model.(AudioEncoder)
	if !ok {
		return nil, fmt.Errorf("%w (%T)", ErrNoAudioEncoder, w.model)
	}
	return enc.EncodeAudio(ctx, audio)
}

// Signatures gibt die Einstiegspunkte zurueck, die m unterstuetzt.
// Mit Prefill-Laengen wird pro Laenge ein eigener Prefill-Eintrag erzeugt.
func Signatures(m Model, prefill ...int) []string {
	_, vision := m.(VisionEncoder)
	_, audio := m.(AudioEncoder)
	return SignatureNames(prefill, vision, audio)
}

// SignatureNames baut die Liste der Einstiegspunkte ohne geladenes Modell,
// z.B. aus den Tensoren einer Exportdatei
func SignatureNames(prefill []int, vision, audio bool) []string {
	var names []string
	if len(prefill) == 0 {
		names = append(names, SignaturePrefill)
	}
	for _, n := range prefill {
		names = append(names, fmt.Sprintf("%s_%d", SignaturePrefill, n))
	}

	names = append(names, SignatureDecode)
	if vision {
		names = append(names, SignatureVision)
	}
	if audio {
		names = append(names, SignatureAudio)
	}
	return names
}
