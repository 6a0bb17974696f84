package caption

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/decoder"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/util"
)

var specialTokens = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]", BOSToken}

// Tokenizer decodes BLIP text decoder ids with the BERT WordPiece
// vocabulary.
type Tokenizer struct {
	tk        *tokenizer.Tokenizer
	vocabSize int
	special   map[int64]bool
}

func LoadTokenizer(vocabPath string) (*Tokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("opening vocab: %w", err)
	}
	defer f.Close()

	vocab := make(model.Vocab)
	sc := bufio.NewScanner(f)
	for id := 0; sc.Scan(); id++ {
		if tok := strings.TrimRight(sc.Text(), "\r"); tok != "" {
			vocab[tok] = id
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", vocabPath)
	}
	return newTokenizer(vocab)
}

func newTokenizer(vocab model.Vocab) (*Tokenizer, error) {
	opts := util.NewParams(map[string]any{
		"unk_token": "[UNK]",
	})
	wp, err := wordpiece.New(vocab, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create wordpiece model: %w", err)
	}

	tk := tokenizer.NewTokenizer(wp)
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	tk.WithDecoder(decoder.DefaultWordpieceDecoder())

	vocabSize := 0
	for _, id := range vocab {
		vocabSize = max(vocabSize, id+1)
	}

	special := make(map[int64]bool)
	for _, tok := range specialTokens {
		if id, ok := vocab[tok]; ok {
			special[int64(id)] = true
		}
	}
	return &Tokenizer{tk: tk, vocabSize: vocabSize, special: special}, nil
}

func (t *Tokenizer) TokenID(token string) (int64, bool) {
	id, ok := t.tk.TokenToId(token)
	return int64(id), ok
}

// SpecialTokens overrides the ids in tc with those the vocabulary defines
// for [SEP], [PAD] and [DEC].
func (t *Tokenizer) SpecialTokens(tc TokenConfig) TokenConfig {
	if id, ok := t.TokenID("[SEP]"); ok {
		tc.EOS = id
	}
	if id, ok := t.TokenID("[PAD]"); ok {
		tc.Pad = id
	}
	if id, ok := t.TokenID(BOSToken); ok {
		tc.BOS = id
	}
	return tc
}

// Decode turns generated ids into text, skipping special and
// out-of-vocabulary ids.
func (t *Tokenizer) Decode(ids []int64) (text string, err error) {
	keep := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= int64(t.vocabSize) || t.special[id] {
			continue
		}
		keep = append(keep, int(id))
	}
	if len(keep) == 0 {
		return "", nil
	}

	// sugarme/tokenizer can panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("decoding tokens: %v", r)
		}
	}()
	return t.tk.Decode(keep, false), nil
}
