package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ModelID, c.ModelID)
	assert.Equal(t, 5, c.MaxTags)
	assert.InDelta(t, 0.1, c.ConfidenceThreshold, 1e-9)
	assert.Equal(t, int64(10*1024*1024), c.MaxFileSize)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/webp"}, c.AllowedTypes)
	assert.Equal(t, 120*time.Second, c.InferenceTimeout)
	assert.Equal(t, "0.0.0.0:8000", c.Addr())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = 9000
max_tags = 3
confidence_threshold = 0.25
inference_timeout = "30s"
allowed_types = ["image/png"]
`), 0o644))
	t.Setenv("KONACAPTION_MAX_TAGS", "7")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, 7, c.MaxTags)
	assert.InDelta(t, 0.25, c.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 30*time.Second, c.InferenceTimeout)
	assert.Equal(t, []string{"image/png"}, c.AllowedTypes)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KONACAPTION_DEVICE=cpu\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("KONACAPTION_DEVICE") })

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cpu", c.Device)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("nope.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"threshold negative", func(c *Config) { c.ConfidenceThreshold = -0.1 }},
		{"zero tags", func(c *Config) { c.MaxTags = 0 }},
		{"too many tags", func(c *Config) { c.MaxTags = 11 }},
		{"file size over ceiling", func(c *Config) { c.MaxFileSize = MaxUploadCeiling + 1 }},
		{"non image type", func(c *Config) { c.AllowedTypes = []string{"text/plain"} }},
		{"zero width", func(c *Config) { c.MaxImageWidth = 0 }},
		{"zero temperature", func(c *Config) { c.Temperature = 0 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no generation slots", func(c *Config) { c.GenerationConcurrency = 0 }},
		{"unknown device", func(c *Config) { c.Device = "tpu" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	assert.NoError(t, c.Validate())
}

func TestDumpMasksSecrets(t *testing.T) {
	c := Default()
	c.Token = "secret-token"
	c.HFToken = "hf_secret"

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, &c))
	out := buf.String()
	assert.NotContains(t, out, "secret-token")
	assert.NotContains(t, out, "hf_secret")
	assert.Contains(t, out, "Xenova/blip-image-captioning-base")
	assert.Equal(t, "secret-token", c.Token)
}
