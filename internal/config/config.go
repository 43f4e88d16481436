// Package config reads environment variables into a typed Config and
// carries the embedded default model roster. All tunable thresholds live
// here so the decision code never hardcodes them.
package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// Matching defaults. The threshold is deliberately conservative: a false
// positive assigns someone else's portrait to an identity.
const (
	DefaultMatchThreshold = 0.85
	DefaultAmbiguityGap   = 0.07
	DefaultConcurrency    = 5
)

type Config struct {
	OpenAI   OpenAIConfig
	Gemini   GeminiConfig
	Ollama   OllamaConfig
	LlamaCpp LlamaCppConfig
	Match    MatchConfig
	Detect   DetectConfig
	Models   ModelsConfig
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL string // defaults to http://localhost:11434
}

type LlamaCppConfig struct {
	URL string // defaults to http://localhost:8080
}

type MatchConfig struct {
	Threshold    float64 // minimum confidence to accept a match
	AmbiguityGap float64 // flag results whose top two scores are closer than this
	Concurrency  int
}

type DetectConfig struct {
	CachePath       string // detection cache JSON file
	ONNXModelPath   string // RetinaFace model file
	ONNXRuntimePath string // onnxruntime shared library
	FaceCascadePath string // pigo facefinder cascade
	EyeCascadePath  string // pigo puploc cascade
}

// ModelsConfig is the embedded default model roster.
type ModelsConfig struct {
	Judge struct {
		Default string `yaml:"default"`
	} `yaml:"judge"`
	Vision struct {
		Default string `yaml:"default"`
	} `yaml:"vision"`
	Providers map[string]struct {
		DefaultModel string `yaml:"default_model"`
	} `yaml:"providers"`
	Detectors struct {
		Order []string `yaml:"order"`
	} `yaml:"detectors"`
}

// envInt reads an environment variable as a positive integer, falling back
// to the default when unset or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in (0, 1], falling
// back to the default when unset or out of range.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// Embedded file, must parse.
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL: envString("OLLAMA_URL", "http://localhost:11434"),
		},
		LlamaCpp: LlamaCppConfig{
			URL: envString("LLAMACPP_URL", "http://localhost:8080"),
		},
		Match: MatchConfig{
			Threshold:    envFloat("MATCH_THRESHOLD", DefaultMatchThreshold),
			AmbiguityGap: envFloat("MATCH_AMBIGUITY_GAP", DefaultAmbiguityGap),
			Concurrency:  envInt("MATCH_CONCURRENCY", DefaultConcurrency),
		},
		Detect: DetectConfig{
			CachePath:       os.Getenv("DETECT_CACHE_PATH"),
			ONNXModelPath:   os.Getenv("ONNX_MODEL_PATH"),
			ONNXRuntimePath: os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"),
			FaceCascadePath: os.Getenv("FACE_CASCADE_PATH"),
			EyeCascadePath:  os.Getenv("EYE_CASCADE_PATH"),
		},
		Models: models,
	}
}

// JudgeModel resolves the judge model reference, preferring the JUDGE_MODEL
// environment variable over the embedded default.
func (c *Config) JudgeModel() string {
	return envString("JUDGE_MODEL", c.Models.Judge.Default)
}

// VisionModel resolves the vision model reference for the vision detector.
func (c *Config) VisionModel() string {
	return envString("VISION_MODEL", c.Models.Vision.Default)
}
