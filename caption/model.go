package caption

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/krau/konacaption/onnx"
	"github.com/krau/konacaption/service"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	inputPixelValues          = "pixel_values"
	inputIDs                  = "input_ids"
	inputAttentionMask        = "attention_mask"
	inputEncoderHiddenStates  = "encoder_hidden_states"
	inputEncoderAttentionMask = "encoder_attention_mask"
	outputLogits              = "logits"
)

var decoderInputs = []string{inputIDs, inputAttentionMask, inputEncoderHiddenStates, inputEncoderAttentionMask}

type ModelOptions struct {
	VisionPath       string
	DecoderPath      string
	VocabPath        string
	ConfigPath       string
	PreprocessorPath string

	Device  string
	Threads int

	Temperature       float32
	TopK              int
	NoRepeatNgramSize int
	MinCaptionLength  int
	Seed              uint64
}

// Model is a BLIP captioning model split into a vision encoder and a text
// decoder, both run with onnxruntime.
type Model struct {
	vision    *onnx.Session
	decoder   *onnx.Session
	tokenizer *Tokenizer
	image     ImageConfig
	tokens    TokenConfig
	opts      ModelOptions
	logger    *zap.Logger
}

func Load(opts ModelOptions, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tokens, imageSize, err := LoadTokenConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	imageCfg, err := LoadImageConfig(opts.PreprocessorPath, imageSize)
	if err != nil {
		return nil, err
	}
	tok, err := LoadTokenizer(opts.VocabPath)
	if err != nil {
		return nil, err
	}
	if opts.ConfigPath == "" {
		tokens = tok.SpecialTokens(tokens)
	}

	sessOpts := onnx.SessionOptions{Device: opts.Device, Threads: opts.Threads}
	vision, err := onnx.NewSession(opts.VisionPath, sessOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("loading vision encoder: %w", err)
	}
	if !vision.HasInput(inputPixelValues) {
		vision.Destroy()
		return nil, fmt.Errorf("vision encoder has no %s input", inputPixelValues)
	}

	// Keep both halves on the same device.
	sessOpts.Device = vision.Device
	decoder, err := onnx.NewSession(opts.DecoderPath, sessOpts, logger)
	if err != nil {
		vision.Destroy()
		return nil, fmt.Errorf("loading text decoder: %w", err)
	}
	if err := checkDecoderInputs(decoder); err != nil {
		vision.Destroy()
		decoder.Destroy()
		return nil, err
	}

	logger.Info("Captioning model ready",
		zap.String("device", decoder.Device),
		zap.Int("image_width", imageCfg.Width),
		zap.Int("image_height", imageCfg.Height),
		zap.Strings("decoder_inputs", decoder.InputNames()),
		zap.Strings("decoder_outputs", decoder.OutputNames()),
		zap.Int64("bos", tokens.BOS),
		zap.Int64("eos", tokens.EOS))

	return &Model{
		vision:    vision,
		decoder:   decoder,
		tokenizer: tok,
		image:     imageCfg,
		tokens:    tokens,
		opts:      opts,
		logger:    logger,
	}, nil
}

func checkDecoderInputs(s *onnx.Session) error {
	for _, in := range s.Inputs {
		if !slices.Contains(decoderInputs, in.Name) {
			return fmt.Errorf("unsupported decoder input %q, export the decoder without past key values", in.Name)
		}
	}
	for _, required := range []string{inputIDs, inputEncoderHiddenStates} {
		if !s.HasInput(required) {
			return fmt.Errorf("text decoder has no %s input", required)
		}
	}
	return nil
}

func (m *Model) Device() string {
	return m.decoder.Device
}

// Generate samples up to budget.MaxSequences captions for img.
func (m *Model) Generate(ctx context.Context, img *service.NormalizedImage, budget service.Budget) ([]string, error) {
	if img == nil || img.Image == nil {
		return nil, errors.New("no image")
	}
	n := max(1, budget.MaxSequences)

	hidden, shape, err := m.encode(img)
	if err != nil {
		return nil, err
	}

	// The encoder output is shared by every sequence in the batch.
	hiddenTensor, err := ort.NewTensor(ort.NewShape(int64(n), shape[1], shape[2]), repeatBatch(hidden, n))
	if err != nil {
		return nil, fmt.Errorf("creating encoder hidden states tensor: %w", err)
	}
	defer hiddenTensor.Destroy()

	var encMask *ort.Tensor[int64]
	if m.decoder.HasInput(inputEncoderAttentionMask) {
		encMask, err = ort.NewTensor(ort.NewShape(int64(n), shape[1]), ones(n*int(shape[1])))
		if err != nil {
			return nil, fmt.Errorf("creating encoder attention mask: %w", err)
		}
		defer encMask.Destroy()
	}

	sampler := NewSampler(SamplerConfig{
		MaxLength:         budget.MaxLength,
		Temperature:       m.opts.Temperature,
		TopK:              m.opts.TopK,
		NoRepeatNgramSize: m.opts.NoRepeatNgramSize,
		EOS:               m.tokens.EOS,
		Pad:               m.tokens.Pad,
		Seed:              m.opts.Seed,
	})
	step := func(ctx context.Context, seqs [][]int64) ([][]float32, error) {
		return m.decodeStep(seqs, hiddenTensor, encMask)
	}

	ids, err := sampler.Generate(ctx, []int64{m.tokens.BOS}, n, step)
	if err != nil {
		return nil, err
	}

	raw := make([]string, 0, len(ids))
	for _, seq := range ids {
		text, err := m.tokenizer.Decode(seq)
		if err != nil {
			m.logger.Warn("Failed to decode caption", zap.Error(err))
			continue
		}
		raw = append(raw, text)
	}
	captions := CleanCaptions(raw, m.opts.MinCaptionLength)
	m.logger.Debug("Generated captions", zap.Int("raw", len(raw)), zap.Strings("captions", captions))
	return captions, nil
}

// encode runs the vision encoder and returns its hidden states with shape
// [1, patches, hidden].
func (m *Model) encode(img *service.NormalizedImage) ([]float32, ort.Shape, error) {
	pixels := PixelValues(img.Image, m.image)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(m.image.Height), int64(m.image.Width)), pixels)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pixel tensor: %w", err)
	}
	defer input.Destroy()

	inputs := make([]ort.Value, len(m.vision.Inputs))
	for i, in := range m.vision.Inputs {
		if in.Name != inputPixelValues {
			return nil, nil, fmt.Errorf("unexpected vision encoder input %q", in.Name)
		}
		inputs[i] = input
	}
	outputs := make([]ort.Value, len(m.vision.Outputs))
	if err := m.vision.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("running vision encoder: %w", err)
	}
	defer destroyAll(outputs)

	for _, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok || len(t.GetShape()) != 3 {
			continue
		}
		return slices.Clone(t.GetData()), slices.Clone(t.GetShape()), nil
	}
	return nil, nil, errors.New("vision encoder produced no 3-d float output")
}

func (m *Model) decodeStep(seqs [][]int64, hidden *ort.Tensor[float32], encMask *ort.Tensor[int64]) ([][]float32, error) {
	n, t := len(seqs), len(seqs[0])
	flat := make([]int64, 0, n*t)
	for _, s := range seqs {
		flat = append(flat, s...)
	}
	ids, err := ort.NewTensor(ort.NewShape(int64(n), int64(t)), flat)
	if err != nil {
		return nil, fmt.Errorf("creating input ids tensor: %w", err)
	}
	defer ids.Destroy()
	mask, err := ort.NewTensor(ort.NewShape(int64(n), int64(t)), ones(n*t))
	if err != nil {
		return nil, fmt.Errorf("creating attention mask tensor: %w", err)
	}
	defer mask.Destroy()

	inputs := make([]ort.Value, len(m.decoder.Inputs))
	for i, in := range m.decoder.Inputs {
		switch in.Name {
		case inputIDs:
			inputs[i] = ids
		case inputAttentionMask:
			inputs[i] = mask
		case inputEncoderHiddenStates:
			inputs[i] = hidden
		case inputEncoderAttentionMask:
			inputs[i] = encMask
		}
	}
	outputs := make([]ort.Value, len(m.decoder.Outputs))
	if err := m.decoder.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("running text decoder: %w", err)
	}
	defer destroyAll(outputs)

	idx := 0
	for i, out := range m.decoder.Outputs {
		if out.Name == outputLogits {
			idx = i
			break
		}
	}
	logits, ok := outputs[idx].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("decoder logits are not float32")
	}
	shape := logits.GetShape()
	if len(shape) != 3 || shape[0] != int64(n) {
		return nil, fmt.Errorf("unexpected logits shape %v", shape)
	}
	return lastStepLogits(logits.GetData(), n, int(shape[1]), int(shape[2]))
}

// repeatBatch stacks n copies of a single-item batch.
func repeatBatch(item []float32, n int) []float32 {
	out := make([]float32, 0, n*len(item))
	for range n {
		out = append(out, item...)
	}
	return out
}

// lastStepLogits picks the final position of each sequence from logits laid
// out as [batch, steps, vocab].
func lastStepLogits(data []float32, batch, steps, vocab int) ([][]float32, error) {
	if batch <= 0 || steps <= 0 || vocab <= 0 {
		return nil, fmt.Errorf("invalid logits shape [%d %d %d]", batch, steps, vocab)
	}
	if len(data) != batch*steps*vocab {
		return nil, fmt.Errorf("logits hold %d values, want %d", len(data), batch*steps*vocab)
	}
	rows := make([][]float32, batch)
	for b := range batch {
		off := (b*steps + steps - 1) * vocab
		rows[b] = slices.Clone(data[off : off+vocab])
	}
	return rows, nil
}

func (m *Model) Close() error {
	return errors.Join(m.vision.Destroy(), m.decoder.Destroy())
}

func ones(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
