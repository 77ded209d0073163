// tokenizer.go - Gemma 3n Tokenizer fuer die tokenizer.* Metadaten der Exportdatei
// Vokabular aus tokenizer.model (SentencePiece), ersatzweise aus tokenizer.json.
// Spezial-Token kommen aus tokenizer_config.json und generation_config.json,
// das Chat-Template aus chat_template.jinja oder tokenizer_config.json.

package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/bidyaai/bidya/fs/ggml"
)

// Token-Typen wie in SentencePiece und GGUF
const (
	_ int32 = iota
	tokenTypeNormal
	tokenTypeUnknown
	tokenTypeControl
	tokenTypeUserDefined
	tokenTypeUnused
	tokenTypeByte
)

// specialTokenKeys bildet die Rollen auf die GGUF-Schluessel ab
var specialTokenKeys = map[string]string{
	"bos": "bos",
	"eos": "eos",
	"unk": "unknown",
	"pad": "padding",
}

var errUnknownTokenizer = errors.New("no tokenizer.model or tokenizer.json")

// SpecialToken - Rolle (bos, eos, ...) und ID eines Spezial-Tokens
type SpecialToken struct {
	Role string
	ID   int

	// Add ist add_<role>_token aus tokenizer_config.json
	Add bool

	// IDs aus generation_config.json, z.B. eos_token_id: [1, 106]
	IDs []int32
}

// Tokenizer - Vokabular in ID-Reihenfolge mit Spezial-Token und Chat-Template
type Tokenizer struct {
	// Model ist "llama" fuer SentencePiece/Unigram, "gpt2" fuer BPE mit Merges
	Model  string
	Tokens []string
	Scores []float32
	Types  []int32
	Merges []string

	Special  []SpecialToken
	Template string
}

// tokenizerJSON ist der Teil von tokenizer.json, den der Export liest
type tokenizerJSON struct {
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`

	Model struct {
		Type   string          `json:"type"`
		Vocab  map[string]int  `json:"vocab"`
		Merges json.RawMessage `json:"merges"`
	} `json:"model"`
}

// readJSON dekodiert name aus fsys in v. Eine fehlende Datei ist kein Fehler.
func readJSON(fsys fs.FS, name string, v any) error {
	b, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// parseTokenizer liest die Tokenizer-Dateien des Basismodells aus fsys.
// roles sind die Spezial-Token, die in die Metadaten gehen.
func parseTokenizer(fsys fs.FS, roles []string) (*Tokenizer, error) {
	var tj *tokenizerJSON
	if err := readJSON(fsys, "tokenizer.json", &tj); err != nil {
		return nil, err
	}

	var t Tokenizer
	switch b, err := fs.ReadFile(fsys, "tokenizer.model"); {
	case err == nil:
		if err := t.readSentencePiece(b); err != nil {
			return nil, fmt.Errorf("tokenizer.model: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	case tj != nil:
		if err := t.readTokenizerJSON(tj); err != nil {
			return nil, fmt.Errorf("tokenizer.json: %w", err)
		}
	default:
		return nil, errUnknownTokenizer
	}

	if tj != nil {
		for _, added := range tj.AddedTokens {
			t.set(added.ID, added.Content, added.Special)
		}
	}

	var config, generation map[string]json.RawMessage
	if err := readJSON(fsys, "tokenizer_config.json", &config); err != nil {
		return nil, err
	}
	if err := readJSON(fsys, "generation_config.json", &generation); err != nil {
		return nil, err
	}

	if err := t.readSpecial(roles, config, generation); err != nil {
		return nil, err
	}

	if err := t.readTemplate(fsys, config["chat_template"]); err != nil {
		return nil, err
	}

	return &t, nil
}

// readTokenizerJSON baut ein dichtes Vokabular aus model.vocab.
// Luecken in den IDs werden als unbenutzte Token aufgefuellt.
func (t *Tokenizer) readTokenizerJSON(tj *tokenizerJSON) error {
	t.Model = "llama"
	if tj.Model.Type == "BPE" && len(tj.Model.Merges) > 0 {
		t.Model = "gpt2"
		merges, err := parseMerges(tj.Model.Merges)
		if err != nil {
			return err
		}
		t.Merges = merges
	}

	n := 0
	for _, id := range tj.Model.Vocab {
		n = max(n, id+1)
	}

	t.Tokens = make([]string, n)
	t.Scores = make([]float32, n)
	t.Types = make([]int32, n)
	for i := range n {
		t.Tokens[i] = fmt.Sprintf("<unused%d>", i)
		t.Types[i] = tokenTypeUnused
	}

	for content, id := range tj.Model.Vocab {
		if id < 0 {
			return fmt.Errorf("token %q has negative id %d", content, id)
		}
		t.Tokens[id] = content
		t.Types[id] = tokenTypeNormal
	}
	return nil
}

// parseMerges akzeptiert ["a b", ...] und [["a", "b"], ...]
func parseMerges(raw json.RawMessage) ([]string, error) {
	var merges []string
	if err := json.Unmarshal(raw, &merges); err == nil {
		return merges, nil
	}

	var pairs [][]string
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("merges: %w", err)
	}

	merges = make([]string, len(pairs))
	for i, pair := range pairs {
		merges[i] = strings.Join(pair, " ")
	}
	return merges, nil
}

// append haengt ein Token am Ende an
func (t *Tokenizer) append(content string, score float32, typ int32) {
	t.Tokens = append(t.Tokens, content)
	t.Scores = append(t.Scores, score)
	t.Types = append(t.Types, typ)
}

// pad fuellt das Vokabular auf n Eintraege auf
func (t *Tokenizer) pad(n int) {
	for i := range n - len(t.Tokens) {
		t.append(fmt.Sprintf("[PAD%d]", i), -1, tokenTypeUserDefined)
	}
}

// set setzt ein added_token aus tokenizer.json, auch hinter dem Vokabular
func (t *Tokenizer) set(id int, content string, special bool) {
	if id < 0 {
		return
	}
	for len(t.Tokens) <= id {
		t.append(fmt.Sprintf("<unused%d>", len(t.Tokens)), 0, tokenTypeUnused)
	}

	t.Tokens[id] = content
	t.Types[id] = tokenTypeUserDefined
	if special {
		t.Types[id] = tokenTypeControl
	}
}

// readSpecial bestimmt ID und add-Flag jeder Rolle. Die ID kommt aus dem
// Token-Inhalt in tokenizer_config.json, sonst aus generation_config.json.
// Rollen ohne gueltige ID werden nicht geschrieben.
func (t *Tokenizer) readSpecial(roles []string, config, generation map[string]json.RawMessage) error {
	ids := make(map[string]int, len(t.Tokens))
	for id, content := range t.Tokens {
		if _, ok := ids[content]; !ok {
			ids[content] = id
		}
	}

	for _, role := range roles {
		st := SpecialToken{Role: role, ID: -1}

		if raw, ok := config["add_"+role+"_token"]; ok {
			if err := json.Unmarshal(raw, &st.Add); err != nil {
				return fmt.Errorf("tokenizer_config.json: add_%s_token: %w", role, err)
			}
		}

		if content := tokenContent(config[role+"_token"]); content != "" {
			if id, ok := ids[content]; ok {
				st.ID = id
			}
		}

		if raw, ok := generation[role+"_token_id"]; ok {
			var id *int
			if err := json.Unmarshal(raw, &id); err == nil {
				if id != nil && st.ID < 0 {
					st.ID = *id
				}
			} else if err := json.Unmarshal(raw, &st.IDs); err != nil {
				return fmt.Errorf("generation_config.json: %s_token_id: %w", role, err)
			} else if st.ID < 0 && len(st.IDs) > 0 {
				st.ID = int(st.IDs[0])
			}
		}

		if st.ID >= 0 && st.ID < len(t.Tokens) {
			t.Special = append(t.Special, st)
		}
	}
	return nil
}

// tokenContent akzeptiert "<bos>" und {"content": "<bos>", ...}
func tokenContent(raw json.RawMessage) string {
	var content string
	if err := json.Unmarshal(raw, &content); err == nil {
		return content
	}

	var added struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &added); err == nil {
		return added.Content
	}
	return ""
}

// readTemplate - chat_template.jinja hat Vorrang. In tokenizer_config.json ist
// das Template ein String oder eine Liste benannter Templates.
func (t *Tokenizer) readTemplate(fsys fs.FS, raw json.RawMessage) error {
	if b, err := fs.ReadFile(fsys, "chat_template.jinja"); err == nil {
		t.Template = string(b)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, &t.Template); err == nil {
		return nil
	}

	var named []struct {
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return fmt.Errorf("tokenizer_config.json: chat_template: %w", err)
	}

	for _, e := range named {
		if e.Name == "default" {
			t.Template = e.Template
		}
	}
	return nil
}

// KV schreibt die tokenizer.* Eintraege in kv
func (t *Tokenizer) KV(kv ggml.KV) {
	kv["tokenizer.ggml.model"] = t.Model
	kv["tokenizer.ggml.pre"] = "default"
	kv["tokenizer.ggml.tokens"] = t.Tokens
	kv["tokenizer.ggml.scores"] = t.Scores
	kv["tokenizer.ggml.token_type"] = t.Types

	if len(t.Merges) > 0 {
		kv["tokenizer.ggml.merges"] = t.Merges
	}

	if t.Template != "" {
		kv["tokenizer.chat_template"] = t.Template
	}

	for _, st := range t.Special {
		key := specialTokenKeys[st.Role]
		kv["tokenizer.ggml."+key+"_token_id"] = uint32(st.ID)
		kv["tokenizer.ggml.add_"+key+"_token"] = st.Add
		if len(st.IDs) > 0 {
			kv["tokenizer.ggml."+key+"_token_ids"] = st.IDs
		}
	}
}
