package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, VocabFile))
	writeFile(t, filepath.Join(dir, "onnx", "vision_model.onnx"))
	writeFile(t, filepath.Join(dir, "onnx", "text_decoder_model.onnx"))
	writeFile(t, filepath.Join(dir, ConfigFile))

	files, err := Resolve(context.Background(), Options{
		ModelID:     dir,
		VisionFile:  "onnx/vision_model.onnx",
		DecoderFile: "onnx/text_decoder_model.onnx",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "onnx", "vision_model.onnx"), files.Vision)
	assert.Equal(t, filepath.Join(dir, ConfigFile), files.Config)
	assert.Empty(t, files.Preprocessor)
}

func TestResolveLocalDirectoryMissingDecoder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, VocabFile))
	writeFile(t, filepath.Join(dir, "onnx", "vision_model.onnx"))

	_, err := Resolve(context.Background(), Options{
		ModelID:     dir,
		VisionFile:  "onnx/vision_model.onnx",
		DecoderFile: "onnx/text_decoder_model.onnx",
	}, nil)
	assert.Error(t, err)
}

func TestResolveEmptyID(t *testing.T) {
	_, err := Resolve(context.Background(), Options{}, nil)
	assert.Error(t, err)
}
