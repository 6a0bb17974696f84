package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "KONACAPTION"
	MaxUploadCeiling  = 100 * 1024 * 1024
	DefaultConfigName = "config"
)

type Config struct {
	Token       string `toml:"token" mapstructure:"token"`
	Host        string `toml:"host" mapstructure:"host"`
	Port        int    `toml:"port" mapstructure:"port"`
	Environment string `toml:"environment" mapstructure:"environment"`
	LogLevel    string `toml:"log_level" mapstructure:"log_level"`
	Debug       bool   `toml:"debug" mapstructure:"debug"`
	Preload     bool   `toml:"preload" mapstructure:"preload"`
	Libonnx     string `toml:"libonnx" mapstructure:"libonnx"`

	ModelID          string `toml:"model_id" mapstructure:"model_id"`
	CacheDir         string `toml:"cache_dir" mapstructure:"cache_dir"`
	HFToken          string `toml:"hf_token" mapstructure:"hf_token"`
	VisionModelFile  string `toml:"vision_model_file" mapstructure:"vision_model_file"`
	DecoderModelFile string `toml:"decoder_model_file" mapstructure:"decoder_model_file"`
	Device           string `toml:"device" mapstructure:"device"`
	IntraOpThreads   int    `toml:"intra_op_threads" mapstructure:"intra_op_threads"`

	MaxFileSize     int64    `toml:"max_file_size" mapstructure:"max_file_size"`
	AllowedTypes    []string `toml:"allowed_types" mapstructure:"allowed_types"`
	MaxImageWidth   int      `toml:"max_image_width" mapstructure:"max_image_width"`
	MaxImageHeight  int      `toml:"max_image_height" mapstructure:"max_image_height"`
	MaxSourcePixels int      `toml:"max_source_pixels" mapstructure:"max_source_pixels"`

	ConfidenceThreshold float64 `toml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxTags             int     `toml:"max_tags" mapstructure:"max_tags"`
	MaxLength           int     `toml:"max_length" mapstructure:"max_length"`
	Temperature         float64 `toml:"temperature" mapstructure:"temperature"`
	TopK                int     `toml:"top_k" mapstructure:"top_k"`
	NoRepeatNgramSize   int     `toml:"no_repeat_ngram_size" mapstructure:"no_repeat_ngram_size"`
	MinCaptionLength    int     `toml:"min_caption_length" mapstructure:"min_caption_length"`
	Seed                uint64  `toml:"seed" mapstructure:"seed"`

	Workers               int           `toml:"workers" mapstructure:"workers"`
	GenerationConcurrency int           `toml:"generation_concurrency" mapstructure:"generation_concurrency"`
	InferenceTimeout      time.Duration `toml:"inference_timeout" mapstructure:"inference_timeout"`

	CORSOrigins  []string `toml:"cors_origins" mapstructure:"cors_origins"`
	TrustedHosts []string `toml:"trusted_hosts" mapstructure:"trusted_hosts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8000,
		Environment: "dev",
		LogLevel:    "info",
		Preload:     true,

		ModelID:          "Xenova/blip-image-captioning-base",
		CacheDir:         "models",
		VisionModelFile:  "onnx/vision_model.onnx",
		DecoderModelFile: "onnx/text_decoder_model.onnx",
		Device:           "auto",

		MaxFileSize:     10 * 1024 * 1024,
		AllowedTypes:    []string{"image/jpeg", "image/png", "image/webp"},
		MaxImageWidth:   512,
		MaxImageHeight:  512,
		MaxSourcePixels: 50 * 1024 * 1024,

		ConfidenceThreshold: 0.1,
		MaxTags:             5,
		MaxLength:           50,
		Temperature:         0.7,
		TopK:                50,
		NoRepeatNgramSize:   2,
		MinCaptionLength:    4,

		Workers:               2,
		GenerationConcurrency: 1,
		InferenceTimeout:      120 * time.Second,

		CORSOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		TrustedHosts: []string{"localhost", "127.0.0.1", "0.0.0.0"},
	}
}

// Load reads defaults, then the TOML file at path (./config.toml when
// empty), then KONACAPTION_* variables from the environment or .env, each
// overriding the previous.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("token", d.Token)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("environment", d.Environment)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("preload", d.Preload)
	v.SetDefault("libonnx", d.Libonnx)
	v.SetDefault("model_id", d.ModelID)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("hf_token", d.HFToken)
	v.SetDefault("vision_model_file", d.VisionModelFile)
	v.SetDefault("decoder_model_file", d.DecoderModelFile)
	v.SetDefault("device", d.Device)
	v.SetDefault("intra_op_threads", d.IntraOpThreads)
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("allowed_types", d.AllowedTypes)
	v.SetDefault("max_image_width", d.MaxImageWidth)
	v.SetDefault("max_image_height", d.MaxImageHeight)
	v.SetDefault("max_source_pixels", d.MaxSourcePixels)
	v.SetDefault("confidence_threshold", d.ConfidenceThreshold)
	v.SetDefault("max_tags", d.MaxTags)
	v.SetDefault("max_length", d.MaxLength)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("top_k", d.TopK)
	v.SetDefault("no_repeat_ngram_size", d.NoRepeatNgramSize)
	v.SetDefault("min_caption_length", d.MinCaptionLength)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("generation_concurrency", d.GenerationConcurrency)
	v.SetDefault("inference_timeout", d.InferenceTimeout)
	v.SetDefault("cors_origins", d.CORSOrigins)
	v.SetDefault("trusted_hosts", d.TrustedHosts)
}
