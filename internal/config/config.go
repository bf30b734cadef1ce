package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	DBPath          string          `toml:"dbPath"`
	DefaultLanguage string          `toml:"defaultLanguage"`
	LogConfig       LogConfig       `toml:"logConfig"`
	Server          ServerConfig    `toml:"server"`
	Session         SessionConfig   `toml:"session"`
	Admins          AdminConfig     `toml:"admins"`
	Balance         BalanceConfig   `toml:"balance"`
	Inference       InferenceConfig `toml:"inference"`
	Storage         StorageConfig   `toml:"storage"`
	Catalog         CatalogConfig   `toml:"catalog"`
	Payments        PaymentsConfig  `toml:"payments"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type ServerConfig struct {
	Address      string        `toml:"address"`
	CORSOrigins  []string      `toml:"corsOrigins"`
	ReadTimeout  time.Duration `toml:"readTimeout"`
	WriteTimeout time.Duration `toml:"writeTimeout"`
	// per user, per minute
	GenerateRate  int `toml:"generateRate"`
	GenerateBurst int `toml:"generateBurst"`
}

type SessionConfig struct {
	Secret       string        `toml:"secret"`
	Issuer       string        `toml:"issuer"`
	TTL          time.Duration `toml:"ttl"`
	CookieName   string        `toml:"cookieName"`
	SecureCookie bool          `toml:"secureCookie"`
}

type AdminConfig struct {
	UserIDs []int64 `toml:"userIDs"`
}

type BalanceConfig struct {
	InitialCredits int `toml:"initialCredits"`
}

type InferenceConfig struct {
	Provider       string        `toml:"provider"` // "huggingface" or "fal"
	APIKey         string        `toml:"apiKey"`
	BaseURL        string        `toml:"baseURL"`
	NegativePrompt string        `toml:"negativePrompt"`
	Timeout        time.Duration `toml:"timeout"`
	MaxRetries     int           `toml:"maxRetries"`
	RetryBackoff   time.Duration `toml:"retryBackoff"`
	PollInterval   time.Duration `toml:"pollInterval"`
}

type StorageConfig struct {
	Provider      string      `toml:"provider"` // "local", "minio" or "datauri"
	LocalDir      string      `toml:"localDir"`
	PublicBaseURL string      `toml:"publicBaseURL"`
	MinIO         MinIOConfig `toml:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"accessKey"`
	SecretKey string `toml:"secretKey"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"useSSL"`
}

type CatalogConfig struct {
	Models []ModelConfig `toml:"models"`
	Styles []StyleConfig `toml:"styles"`
}

type ModelConfig struct {
	ID          int64  `toml:"id"`
	Name        string `toml:"name"`
	DisplayName string `toml:"displayName"`
	Description string `toml:"description"`
	ModelID     string `toml:"modelID"`
	CreditCost  int    `toml:"creditCost"`
	Tier        string `toml:"tier"`
	Premium     bool   `toml:"premium"`
}

type StyleConfig struct {
	ID             int64  `toml:"id"`
	Name           string `toml:"name"`
	Description    string `toml:"description"`
	PromptModifier string `toml:"promptModifier"`
}

type PaymentsConfig struct {
	// CheckoutBaseURL prefixes the approve/capture links of simulated orders.
	CheckoutBaseURL string          `toml:"checkoutBaseURL"`
	Packages        []PackageConfig `toml:"packages"`
}

type PackageConfig struct {
	ID          int64  `toml:"id"`
	Name        string `toml:"name"`
	Credits     int    `toml:"credits"`
	PriceCents  int    `toml:"priceCents"`
	Description string `toml:"description"`
	Popular     bool   `toml:"popular"`
}

// Environment variables that override secrets from the config file.
const (
	EnvInferenceAPIKey = "DREAMFORGE_INFERENCE_API_KEY"
	EnvSessionSecret   = "DREAMFORGE_SESSION_SECRET"
	EnvMinIOAccessKey  = "DREAMFORGE_MINIO_ACCESS_KEY"
	EnvMinIOSecretKey  = "DREAMFORGE_MINIO_SECRET_KEY"
)

// LoadConfig decodes the TOML file at path, applies defaults and environment overrides.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDotEnv loads a local .env file if one exists. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "dreamforge.db"
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Format == "" {
		cfg.LogConfig.Format = "console"
	}

	s := &cfg.Server
	if s.Address == "" {
		s.Address = ":8080"
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout <= 0 {
		// generation can take tens of seconds upstream
		s.WriteTimeout = 120 * time.Second
	}
	if s.GenerateRate <= 0 {
		s.GenerateRate = 10
	}
	if s.GenerateBurst <= 0 {
		s.GenerateBurst = 3
	}

	if cfg.Session.Issuer == "" {
		cfg.Session.Issuer = "dreamforge"
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = 7 * 24 * time.Hour
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "dreamforge_session"
	}

	if cfg.Balance.InitialCredits == 0 {
		cfg.Balance.InitialCredits = 5
	}

	inf := &cfg.Inference
	if inf.Provider == "" {
		inf.Provider = "huggingface"
	}
	if inf.BaseURL == "" {
		switch inf.Provider {
		case "fal":
			inf.BaseURL = "https://queue.fal.run"
		default:
			inf.BaseURL = "https://api-inference.huggingface.co/models"
		}
	}
	if inf.NegativePrompt == "" {
		inf.NegativePrompt = "blurry, bad quality, distorted, deformed"
	}
	if inf.Timeout <= 0 {
		inf.Timeout = 60 * time.Second
	}
	if inf.RetryBackoff <= 0 {
		inf.RetryBackoff = 2 * time.Second
	}
	if inf.PollInterval <= 0 {
		inf.PollInterval = time.Second
	}

	st := &cfg.Storage
	if st.Provider == "" {
		st.Provider = "local"
	}
	if st.LocalDir == "" {
		st.LocalDir = "data/images"
	}
	if st.MinIO.Bucket == "" {
		st.MinIO.Bucket = "dreamforge"
	}

	if len(cfg.Catalog.Models) == 0 {
		cfg.Catalog.Models = DefaultModels()
	}
	if len(cfg.Catalog.Styles) == 0 {
		cfg.Catalog.Styles = DefaultStyles()
	}
	if len(cfg.Payments.Packages) == 0 {
		cfg.Payments.Packages = DefaultPackages()
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvInferenceAPIKey)); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSessionSecret)); v != "" {
		cfg.Session.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMinIOAccessKey)); v != "" {
		cfg.Storage.MinIO.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMinIOSecretKey)); v != "" {
		cfg.Storage.MinIO.SecretKey = v
	}
}

func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{ID: 1, Name: "stable-diffusion-v1-5", DisplayName: "SD v1.5", Description: "Basic", CreditCost: 1, ModelID: "runwayml/stable-diffusion-v1-5", Tier: "Basic"},
		{ID: 2, Name: "sdxl", DisplayName: "SDXL", Description: "Standard", CreditCost: 2, ModelID: "stabilityai/stable-diffusion-xl-base-1.0", Tier: "Standard"},
		{ID: 3, Name: "anything-v5", DisplayName: "Anything V5", Description: "Premium", CreditCost: 4, ModelID: "stablediffusionapi/anything-v5", Tier: "Premium", Premium: true},
	}
}

func DefaultStyles() []StyleConfig {
	return []StyleConfig{
		{ID: 1, Name: "Realistic", Description: "Photo-realistic style"},
		{ID: 2, Name: "Anime", Description: "Japanese animation style"},
		{ID: 3, Name: "Fantasy", Description: "Magical and fantastical elements"},
		{ID: 4, Name: "Cyberpunk", Description: "Futuristic high-tech low-life"},
		{ID: 5, Name: "Portrait", Description: "Focused on subjects' faces"},
		{ID: 6, Name: "Watercolor", Description: "Soft watercolor painting look"},
		{ID: 7, Name: "3D Render", Description: "Computer-generated 3D imagery"},
	}
}

func DefaultPackages() []PackageConfig {
	return []PackageConfig{
		{ID: 1, Name: "Starter Pack", Credits: 20, PriceCents: 499, Description: "Perfect for beginners"},
		{ID: 2, Name: "Premium Pack", Credits: 50, PriceCents: 999, Description: "Most value for money", Popular: true},
		{ID: 3, Name: "Pro Pack", Credits: 150, PriceCents: 2499, Description: "For serious creators"},
	}
}

func ValidateURL(urlString string) bool {
	if urlString == "" {
		return false
	}
	u, err := url.Parse(urlString)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func MaskedPrint(str string) string {
	if len(str) <= 4 {
		return strings.Repeat("*", len(str))
	}
	return strings.Repeat("*", len(str)-4) + str[len(str)-4:]
}

func PrintConfig(cfg *Config) {
	fmt.Println()
	fmt.Println("--------------------------------")
	fmt.Println("Config:")
	fmt.Printf("\tDBPath: %s\n", cfg.DBPath)
	fmt.Printf("\tDefaultLanguage: %s\n", cfg.DefaultLanguage)
	fmt.Printf("\tLogConfig: %v\n", cfg.LogConfig)
	fmt.Printf("\tServer: %v\n", cfg.Server)
	fmt.Printf("\tSessionSecret: %s\n", MaskedPrint(cfg.Session.Secret))
	fmt.Printf("\tAdmins: %v\n", cfg.Admins.UserIDs)
	fmt.Printf("\tInitialCredits: %d\n", cfg.Balance.InitialCredits)
	fmt.Printf("\tInference: provider=%s baseURL=%s timeout=%s retries=%d\n", cfg.Inference.Provider, cfg.Inference.BaseURL, cfg.Inference.Timeout, cfg.Inference.MaxRetries)
	fmt.Printf("\tInferenceAPIKey: %s\n", MaskedPrint(cfg.Inference.APIKey))
	fmt.Printf("\tStorage: provider=%s\n", cfg.Storage.Provider)
	fmt.Printf("\tModels: %d, Styles: %d, Packages: %d\n", len(cfg.Catalog.Models), len(cfg.Catalog.Styles), len(cfg.Payments.Packages))
	fmt.Println("--------------------------------")
	fmt.Println()
}

func ValidateConfig(cfg *Config) error {
	if cfg.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	if len(cfg.Session.Secret) < 16 {
		return fmt.Errorf("session.secret must be at least 16 characters")
	}
	if cfg.Inference.APIKey == "" {
		return fmt.Errorf("inference.apiKey is required")
	}
	switch cfg.Inference.Provider {
	case "huggingface", "fal":
	default:
		return fmt.Errorf("inference.provider must be one of: huggingface, fal")
	}
	if !ValidateURL(cfg.Inference.BaseURL) {
		return fmt.Errorf("inference.baseURL must be a valid URL")
	}
	if cfg.Inference.MaxRetries < 0 || cfg.Inference.MaxRetries > 5 {
		return fmt.Errorf("inference.maxRetries must be between 0 and 5")
	}
	// generation has to finish before the response write deadline
	if cfg.Server.WriteTimeout <= cfg.Inference.Timeout {
		return fmt.Errorf("server.writeTimeout (%s) must be greater than inference.timeout (%s)",
			cfg.Server.WriteTimeout, cfg.Inference.Timeout)
	}
	if cfg.Balance.InitialCredits < 0 {
		return fmt.Errorf("balance.initialCredits must not be negative")
	}

	switch cfg.Storage.Provider {
	case "local":
		if cfg.Storage.LocalDir == "" {
			return fmt.Errorf("storage.localDir is required for the local provider")
		}
	case "minio":
		m := cfg.Storage.MinIO
		if m.Endpoint == "" || m.AccessKey == "" || m.SecretKey == "" {
			return fmt.Errorf("storage.minio endpoint, accessKey and secretKey are required")
		}
		if !ValidateURL(cfg.Storage.PublicBaseURL) {
			return fmt.Errorf("storage.publicBaseURL must be a valid URL for the minio provider")
		}
	case "datauri":
	default:
		return fmt.Errorf("storage.provider must be one of: local, minio, datauri")
	}

	modelIDs := make(map[int64]bool, len(cfg.Catalog.Models))
	for _, m := range cfg.Catalog.Models {
		if m.ID <= 0 || m.Name == "" || m.ModelID == "" {
			return fmt.Errorf("catalog model %q needs id, name and modelID", m.Name)
		}
		if m.CreditCost <= 0 {
			return fmt.Errorf("catalog model %q: creditCost must be greater than 0", m.Name)
		}
		if modelIDs[m.ID] {
			return fmt.Errorf("catalog model id %d is duplicated", m.ID)
		}
		modelIDs[m.ID] = true
	}
	styleIDs := make(map[int64]bool, len(cfg.Catalog.Styles))
	for _, s := range cfg.Catalog.Styles {
		if s.ID <= 0 || s.Name == "" {
			return fmt.Errorf("catalog style %q needs id and name", s.Name)
		}
		if styleIDs[s.ID] {
			return fmt.Errorf("catalog style id %d is duplicated", s.ID)
		}
		styleIDs[s.ID] = true
	}
	for _, p := range cfg.Payments.Packages {
		if p.ID <= 0 || p.Credits <= 0 || p.PriceCents <= 0 {
			return fmt.Errorf("payment package %q needs id, credits and priceCents", p.Name)
		}
	}
	return nil
}
