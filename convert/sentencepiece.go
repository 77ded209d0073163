// sentencepiece.go - Liest die Pieces aus tokenizer.model
// Das ModelProto wird feldweise dekodiert, nur die Pieces werden gebraucht:
//
//	message ModelProto { repeated SentencePiece pieces = 1; ... }
//	message SentencePiece { string piece = 1; float score = 2; Type type = 3; }

package convert

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var errNoPieces = errors.New("sentencepiece: model has no pieces")

// readSentencePiece fuellt das Vokabular aus einem serialisierten ModelProto
func (t *Tokenizer) readSentencePiece(b []byte) error {
	t.Model = "llama"
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("sentencepiece: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == 1 && typ == protowire.BytesType {
			piece, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("sentencepiece: piece %d: %w", len(t.Tokens), protowire.ParseError(n))
			}
			if err := t.appendPiece(piece); err != nil {
				return fmt.Errorf("sentencepiece: piece %d: %w", len(t.Tokens), err)
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("sentencepiece: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if len(t.Tokens) == 0 {
		return errNoPieces
	}
	return nil
}

// appendPiece dekodiert eine SentencePiece-Nachricht
func (t *Tokenizer) appendPiece(b []byte) error {
	var (
		piece string
		score float32
		typ   = tokenTypeNormal
	)

	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == 1 && wt == protowire.BytesType:
			piece, n = protowire.ConsumeString(b)
		case num == 2 && wt == protowire.Fixed32Type:
			var bits uint32
			bits, n = protowire.ConsumeFixed32(b)
			score = math.Float32frombits(bits)
		case num == 3 && wt == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			typ = int32(v)
		default:
			n = protowire.ConsumeFieldValue(num, wt, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}

	t.append(piece, score, typ)
	return nil
}
