package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/subosito/gotenv"
)

type ModelMode string

const (
	ModelFixed      ModelMode = "fixed"
	ModelSelectable ModelMode = "selectable"
)

const (
	DefaultModel = "gemini-2.5-flash"

	DefaultPersona = "당신은 어르신(노년층)을 대상으로 상냥하고 친절한 말투로 응답하는 상담 도우미입니다. " +
		"존댓말을 사용하고, 천천히, 친절하게 설명하세요. 어려운 용어는 쉬운 말로 풀어 설명하고, " +
		"한 번에 한 가지 정보를 제공하며 배려심 있고 공손한 표현을 사용하세요."

	// MissingKeyMessage is shown by the shells while the credential is absent.
	MissingKeyMessage = "GEMINI_API_KEY가 설정되어 있지 않습니다. 환경 변수 또는 .env 파일에 GEMINI_API_KEY를 추가하세요."
)

var ErrConfigurationMissing = errors.New("GEMINI_API_KEY is not set")

type Config struct {
	APIKey string

	ModelMode     ModelMode
	Model         string
	Models        []string
	Persona       string // empty disables the persona prefix
	ErrorDetail   bool
	HistoryWindow int

	HTTPAddr  string
	JWTSecret []byte
	APIKeyID  string
	APISecret string

	VoiceEnabled  bool
	VoiceLanguage string

	Debug       bool
	LogFile     string
	OtelEnabled bool
}

// LoadEnvFiles merges .env style files into the process environment.
// Missing files are ignored; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := gotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Load reads the environment and builds the config. The returned config is
// populated even when the credential is missing so the shell can still serve
// its configuration-error state; in that case the error is
// ErrConfigurationMissing.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey: os.Getenv("GEMINI_API_KEY"),

		Model:       getEnv("CHAT_MODEL", DefaultModel),
		ErrorDetail: getBoolEnv("CHAT_ERROR_DETAIL", false),

		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		APIKeyID:  os.Getenv("API_KEY"),
		APISecret: os.Getenv("API_SECRET"),

		VoiceEnabled:  getBoolEnv("VOICE_ENABLED", false),
		VoiceLanguage: getEnv("VOICE_LANGUAGE", "ko-KR"),

		Debug:       getBoolEnv("DEBUG", false),
		LogFile:     os.Getenv("LOG_FILE"),
		OtelEnabled: getBoolEnv("OTEL_ENABLED", false),
	}

	switch mode := ModelMode(getEnv("CHAT_MODEL_MODE", string(ModelFixed))); mode {
	case ModelFixed, ModelSelectable:
		cfg.ModelMode = mode
	default:
		return nil, fmt.Errorf("CHAT_MODEL_MODE must be %q or %q, got %q", ModelFixed, ModelSelectable, mode)
	}

	for _, m := range strings.Split(getEnv("CHAT_MODELS", "gemini-2.5-flash,gemini-1.0"), ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.Models = append(cfg.Models, m)
		}
	}
	if cfg.ModelMode == ModelSelectable && len(cfg.Models) == 0 {
		return nil, errors.New("CHAT_MODELS must list at least one model in selectable mode")
	}

	if getBoolEnv("CHAT_PERSONA_ENABLED", true) {
		cfg.Persona = getEnv("CHAT_PERSONA", DefaultPersona)
	}

	window, err := strconv.Atoi(getEnv("CHAT_HISTORY_WINDOW", "0"))
	if err != nil || window < 0 {
		return nil, fmt.Errorf("CHAT_HISTORY_WINDOW must be a non-negative integer")
	}
	cfg.HistoryWindow = window

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = []byte(secret)
	} else {
		cfg.JWTSecret = randomSecret()
	}

	if cfg.APIKey == "" {
		return cfg, ErrConfigurationMissing
	}
	return cfg, nil
}

func randomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("generating jwt secret: %w", err))
	}
	return []byte(hex.EncodeToString(b))
}
