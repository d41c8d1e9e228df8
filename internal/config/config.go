// Package config resolves pipeline configuration from built-in defaults, an
// optional YAML file, and environment variables, in that order of precedence
// (later wins). A .env file in the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Default hosted model identifiers.
const (
	DefaultPanoramaModel = "lucataco/sdxl-panoramic:76acc4075d0633dcb3823c1fed0419de21d42001b65c816c7b5b9beff30ec8cd"
	DefaultInpaintModel  = "stability-ai/stable-diffusion-inpainting"
	DefaultUpscaleModel  = "philz1337x/clarity-upscaler:dfad41707589d68ecdccd1dfa600d55a208f9310748e44bfe35b4a6291453d5e"

	DefaultEnhanceModel   = "gpt-4o-mini"
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChapterModel   = "gpt-4o-mini"

	DefaultPineconeIndex = "audio-caption-index"
	DefaultCatalogTable  = "audio_catalog"
)

// Output modes for PipelineResult.finalImage. A deployment uses exactly one.
const (
	OutputURL    = "url"
	OutputInline = "inline"
)

// Catalog backends.
const (
	CatalogPinecone = "pinecone"
	CatalogPgvector = "pgvector"
)

// Enhancer providers.
const (
	EnhancerOpenAI = "openai"
	EnhancerGemini = "gemini"
)

// GenerationParams are the fixed text-to-image settings. They are deployment
// constants, never request-level.
type GenerationParams struct {
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	GuidanceScale  float64 `yaml:"guidanceScale"`
	InferenceSteps int     `yaml:"inferenceSteps"`
	// Seed pins the generator for reproducibility. Zero leaves it unset.
	Seed           int    `yaml:"seed"`
	NegativePrompt string `yaml:"negativePrompt"`
}

// InpaintParams configure the seam blending pass.
type InpaintParams struct {
	InferenceSteps int     `yaml:"inferenceSteps"`
	GuidanceScale  float64 `yaml:"guidanceScale"`
	// MaskSource is a local path, s3://bucket/key, or http(s) URL. Empty
	// synthesizes the default seam mask.
	MaskSource string `yaml:"maskSource"`
	// SeamBand is the width in pixels of the synthesized mask's white band.
	SeamBand int `yaml:"seamBand"`
}

// UpscaleParams configure the super-resolution pass.
type UpscaleParams struct {
	ScaleFactor int  `yaml:"scaleFactor"`
	FaceEnhance bool `yaml:"faceEnhance"`
}

// StageTimeouts bound each remote-call stage independently.
type StageTimeouts struct {
	Enhance  time.Duration `yaml:"enhance"`
	Generate time.Duration `yaml:"generate"`
	Inpaint  time.Duration `yaml:"inpaint"`
	Upscale  time.Duration `yaml:"upscale"`
	Match    time.Duration `yaml:"match"`
	Publish  time.Duration `yaml:"publish"`
}

// RetryPolicy bounds adapter-level retries of transient failures.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"maxRetries"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

// Config is the resolved pipeline configuration.
type Config struct {
	ReplicateToken string `yaml:"-"`
	OpenAIKey      string `yaml:"-"`
	GeminiKey      string `yaml:"-"`
	PineconeKey    string `yaml:"-"`

	ReplicateBaseURL string `yaml:"replicateBaseUrl"`
	OpenAIBaseURL    string `yaml:"openaiBaseUrl"`

	PanoramaModel  string `yaml:"panoramaModel"`
	InpaintModel   string `yaml:"inpaintModel"`
	UpscaleModel   string `yaml:"upscaleModel"`
	EnhanceModel   string `yaml:"enhanceModel"`
	Enhancer       string `yaml:"enhancer"`
	EmbeddingModel string `yaml:"embeddingModel"`
	ChapterModel   string `yaml:"chapterModel"`

	Generation GenerationParams `yaml:"generation"`
	Inpaint    InpaintParams    `yaml:"inpaint"`
	Upscale    UpscaleParams    `yaml:"upscale"`
	Timeouts   StageTimeouts    `yaml:"timeouts"`
	Retry      RetryPolicy      `yaml:"retry"`

	// ReplicateRPS limits prediction API calls per second per process.
	ReplicateRPS float64 `yaml:"replicateRps"`
	PollInterval time.Duration `yaml:"pollInterval"`

	Catalog          string        `yaml:"catalog"`
	PineconeHost     string        `yaml:"pineconeHost"`
	PineconeNS       string        `yaml:"pineconeNamespace"`
	AuroraClusterARN string        `yaml:"auroraClusterArn"`
	AuroraSecretARN  string        `yaml:"auroraSecretArn"`
	AuroraDatabase   string        `yaml:"auroraDatabase"`
	CatalogTable     string        `yaml:"catalogTable"`
	EmbeddingTTL     time.Duration `yaml:"embeddingTtl"`

	OutputMode    string        `yaml:"outputMode"`
	OutputBucket  string        `yaml:"outputBucket"`
	OutputPrefix  string        `yaml:"outputPrefix"`
	OutputDir     string        `yaml:"outputDir"`
	PresignExpiry time.Duration `yaml:"presignExpiry"`

	RunTable string `yaml:"runTable"`
	EventBus string `yaml:"eventBus"`

	ListenAddr       string `yaml:"listenAddr"`
	BatchConcurrency int    `yaml:"batchConcurrency"`
	OriginSecret     string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ReplicateBaseURL: "https://api.replicate.com/v1",
		PanoramaModel:    DefaultPanoramaModel,
		InpaintModel:     DefaultInpaintModel,
		UpscaleModel:     DefaultUpscaleModel,
		EnhanceModel:     DefaultEnhanceModel,
		Enhancer:         EnhancerOpenAI,
		EmbeddingModel:   DefaultEmbeddingModel,
		ChapterModel:     DefaultChapterModel,
		Generation: GenerationParams{
			Width:          2048,
			Height:         1024,
			GuidanceScale:  7.5,
			InferenceSteps: 50,
			Seed:           1335,
		},
		Inpaint: InpaintParams{
			InferenceSteps: 30,
			GuidanceScale:  7.5,
			SeamBand:       128,
		},
		Upscale: UpscaleParams{ScaleFactor: 2},
		Timeouts: StageTimeouts{
			Enhance:  30 * time.Second,
			Generate: 3 * time.Minute,
			Inpaint:  2 * time.Minute,
			Upscale:  10 * time.Minute,
			Match:    15 * time.Second,
			Publish:  30 * time.Second,
		},
		Retry: RetryPolicy{
			MaxRetries:     2,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		ReplicateRPS:     5,
		PollInterval:     2 * time.Second,
		Catalog:          CatalogPinecone,
		CatalogTable:     DefaultCatalogTable,
		EmbeddingTTL:     time.Hour,
		OutputMode:       OutputURL,
		OutputPrefix:     "panoramas/",
		OutputDir:        ".",
		PresignExpiry:    time.Hour,
		ListenAddr:       ":8080",
		BatchConcurrency: 2,
	}
}

// Load resolves Default, then the YAML file named by PANORAMA_CONFIG, then
// environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := Default()
	if path := os.Getenv("PANORAMA_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Loaded config file")
	return nil
}

func (c *Config) applyEnv() {
	c.ReplicateToken = getenvFirst([]string{"REPLICATE_API_TOKEN", "REPLICATE_AUTH"}, c.ReplicateToken)
	c.OpenAIKey = getenv("OPENAI_API_KEY", c.OpenAIKey)
	c.GeminiKey = getenv("GEMINI_API_KEY", c.GeminiKey)
	c.PineconeKey = getenv("PINECONE_API_KEY", c.PineconeKey)
	c.OriginSecret = getenv("ORIGIN_VERIFY_SECRET", c.OriginSecret)

	c.ReplicateBaseURL = getenv("REPLICATE_BASE_URL", c.ReplicateBaseURL)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)

	c.PanoramaModel = getenv("PANORAMA_MODEL", c.PanoramaModel)
	c.InpaintModel = getenv("INPAINT_MODEL", c.InpaintModel)
	c.UpscaleModel = getenv("UPSCALE_MODEL", c.UpscaleModel)
	c.EnhanceModel = getenv("ENHANCE_MODEL", c.EnhanceModel)
	c.Enhancer = strings.ToLower(getenv("ENHANCER", c.Enhancer))
	c.EmbeddingModel = getenv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.ChapterModel = getenv("CHAPTER_MODEL", c.ChapterModel)

	c.Generation.Width = getenvInt("PANORAMA_WIDTH", c.Generation.Width, 64, 8192)
	c.Generation.Height = getenvInt("PANORAMA_HEIGHT", c.Generation.Height, 32, 4096)
	c.Generation.InferenceSteps = getenvInt("PANORAMA_STEPS", c.Generation.InferenceSteps, 1, 500)
	c.Generation.Seed = getenvInt("PANORAMA_SEED", c.Generation.Seed, 0, 0)
	c.Generation.NegativePrompt = getenv("PANORAMA_NEGATIVE_PROMPT", c.Generation.NegativePrompt)

	c.Inpaint.MaskSource = getenv("MASK_SOURCE", c.Inpaint.MaskSource)
	c.Inpaint.SeamBand = getenvInt("MASK_SEAM_BAND", c.Inpaint.SeamBand, 1, 2048)

	c.Upscale.ScaleFactor = getenvInt("UPSCALE_FACTOR", c.Upscale.ScaleFactor, 1, 8)
	c.Upscale.FaceEnhance = getenvBool("UPSCALE_FACE_ENHANCE", c.Upscale.FaceEnhance)

	c.Timeouts.Enhance = getenvDuration("TIMEOUT_ENHANCE", c.Timeouts.Enhance)
	c.Timeouts.Generate = getenvDuration("TIMEOUT_GENERATE", c.Timeouts.Generate)
	c.Timeouts.Inpaint = getenvDuration("TIMEOUT_INPAINT", c.Timeouts.Inpaint)
	c.Timeouts.Upscale = getenvDuration("TIMEOUT_UPSCALE", c.Timeouts.Upscale)
	c.Timeouts.Match = getenvDuration("TIMEOUT_MATCH", c.Timeouts.Match)
	c.Timeouts.Publish = getenvDuration("TIMEOUT_PUBLISH", c.Timeouts.Publish)

	c.Retry.MaxRetries = getenvInt("MAX_RETRIES", c.Retry.MaxRetries, 0, 10)
	c.Retry.InitialBackoff = getenvDuration("RETRY_BACKOFF", c.Retry.InitialBackoff)
	c.Retry.MaxBackoff = getenvDuration("RETRY_MAX_BACKOFF", c.Retry.MaxBackoff)

	c.PollInterval = getenvDuration("REPLICATE_POLL_INTERVAL", c.PollInterval)

	c.Catalog = strings.ToLower(getenv("CATALOG_BACKEND", c.Catalog))
	c.PineconeHost = getenv("PINECONE_INDEX_HOST", c.PineconeHost)
	c.PineconeNS = getenv("PINECONE_NAMESPACE", c.PineconeNS)
	c.AuroraClusterARN = getenv("AURORA_CLUSTER_ARN", c.AuroraClusterARN)
	c.AuroraSecretARN = getenv("AURORA_SECRET_ARN", c.AuroraSecretARN)
	c.AuroraDatabase = getenv("AURORA_DATABASE", c.AuroraDatabase)
	c.CatalogTable = getenv("CATALOG_TABLE", c.CatalogTable)

	c.OutputMode = strings.ToLower(getenv("OUTPUT_MODE", c.OutputMode))
	c.OutputBucket = getenv("OUTPUT_BUCKET", c.OutputBucket)
	c.OutputPrefix = getenv("OUTPUT_PREFIX", c.OutputPrefix)
	c.OutputDir = getenv("OUTPUT_DIR", c.OutputDir)
	c.PresignExpiry = getenvDuration("PRESIGN_EXPIRY", c.PresignExpiry)

	c.RunTable = getenv("RUN_TABLE_NAME", c.RunTable)
	c.EventBus = getenv("EVENT_BUS_NAME", c.EventBus)

	if port := os.Getenv("PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	c.BatchConcurrency = getenvInt("BATCH_CONCURRENCY", c.BatchConcurrency, 1, 16)
}

// Validate checks that the providers the pipeline needs are configured.
func (c Config) Validate() error {
	var missing []string
	if c.ReplicateToken == "" {
		missing = append(missing, "REPLICATE_API_TOKEN")
	}
	if c.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Enhancer == EnhancerGemini && c.GeminiKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	switch c.Catalog {
	case CatalogPinecone:
		if c.PineconeKey == "" || c.PineconeHost == "" {
			missing = append(missing, "PINECONE_API_KEY/PINECONE_INDEX_HOST")
		}
	case CatalogPgvector:
		if c.AuroraClusterARN == "" || c.AuroraSecretARN == "" {
			missing = append(missing, "AURORA_CLUSTER_ARN/AURORA_SECRET_ARN")
		}
	default:
		return pipeerr.Validation("unknown catalog backend %q", c.Catalog)
	}
	if len(missing) > 0 {
		return pipeerr.Validation("missing configuration: %s", strings.Join(missing, ", "))
	}
	switch c.OutputMode {
	case OutputURL, OutputInline:
	default:
		return pipeerr.Validation("unknown output mode %q", c.OutputMode)
	}
	if c.Generation.Width < 2 || c.Generation.Height < 1 {
		return pipeerr.Validation("generation size %dx%d too small", c.Generation.Width, c.Generation.Height)
	}
	return nil
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getenvFirst(keys []string, fallback string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}

// getenvInt parses key as an int bounded by [min, max]. A zero bound is
// unbounded. Invalid or out-of-range values fall back.
func getenvInt(key string, fallback, min, max int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("envVar", key).Str("value", raw).Msg("Ignoring non-integer value")
		return fallback
	}
	if (min != 0 && v < min) || (max != 0 && v > max) {
		log.Warn().Str("envVar", key).Int("value", v).Int("min", min).Int("max", max).Msg("Ignoring out-of-range value")
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// getenvDuration accepts Go duration syntax ("90s") or a bare number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
