// Package config loads process configuration for the conductor binaries.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables prefixed with CONDUCTOR_. Nested keys in environment
// variable names are separated by a double underscore:
//
//	CONDUCTOR_STORAGE__BACKEND=qdrant           -> storage.backend
//	CONDUCTOR_INGESTION__REQUESTS_PER_MINUTE=30 -> ingestion.requests_per_minute
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
)

// Storage backends.
const (
	BackendBadger  = "badger"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Planner kinds.
const (
	PlannerRules = "rules"
	PlannerLLM   = "llm"
)

// Config is the complete process configuration.
type Config struct {
	LogLevel  string          `koanf:"log_level" validate:"oneof=debug info warn error"`
	AI        AIConfig        `koanf:"ai"`
	Storage   StorageConfig   `koanf:"storage"`
	Ingestion IngestionConfig `koanf:"ingestion"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Planner   PlannerConfig   `koanf:"planner"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Cache     CacheConfig     `koanf:"cache"`
	GitHub    GitHubConfig    `koanf:"github"`
	NATS      NATSConfig      `koanf:"nats"`
	Watch     WatchConfig     `koanf:"watch"`
}

// AIConfig selects the embedding and completion services.
type AIConfig struct {
	EmbeddingHost   string `koanf:"embedding_host" validate:"required,url"`
	CompletionHost  string `koanf:"completion_host" validate:"required,url"`
	EmbeddingModel  string `koanf:"embedding_model" validate:"required"`
	CompletionModel string `koanf:"completion_model" validate:"required"`
	APIKey          string `koanf:"api_key"`
	MaxTokens       int    `koanf:"max_tokens" validate:"gte=0"`
}

// StorageConfig selects the knowledge store backend. Dead letters and cache
// entries always live in badger under Path.
type StorageConfig struct {
	Backend  string        `koanf:"backend" validate:"oneof=badger chromem qdrant"`
	Path     string        `koanf:"path" validate:"required_without=InMemory"`
	InMemory bool          `koanf:"in_memory"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
	Chromem  ChromemConfig `koanf:"chromem"`
}

// QdrantConfig addresses a Qdrant service.
type QdrantConfig struct {
	Host       string `koanf:"host" validate:"required"`
	Port       int    `koanf:"port" validate:"gt=0,lte=65535"`
	APIKey     string `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection" validate:"required"`
}

// ChromemConfig configures the embedded chromem database.
type ChromemConfig struct {
	// Path persists the database. Empty keeps it in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// IngestionConfig bounds embedding traffic.
type IngestionConfig struct {
	RequestsPerMinute int           `koanf:"requests_per_minute" validate:"min=1"`
	BatchSize         int           `koanf:"batch_size" validate:"min=1"`
	MaxAttempts       int           `koanf:"max_attempts" validate:"min=1"`
	BaseDelay         time.Duration `koanf:"base_delay" validate:"gt=0"`
	PoolSize          int           `koanf:"pool_size" validate:"gte=0"`
}

// RetrievalConfig tunes hybrid ranking.
type RetrievalConfig struct {
	TopK            int     `koanf:"top_k" validate:"min=1"`
	VectorWeight    float32 `koanf:"vector_weight" validate:"gte=0"`
	KeywordWeight   float32 `koanf:"keyword_weight" validate:"gte=0"`
	CandidateFactor int     `koanf:"candidate_factor" validate:"min=1"`
	MinScore        float32 `koanf:"min_score" validate:"gte=0"`
}

// PlannerConfig selects the planner.
type PlannerConfig struct {
	Kind string `koanf:"kind" validate:"oneof=rules llm"`
}

// SchedulerConfig bounds plan execution.
type SchedulerConfig struct {
	PlanDeadline time.Duration            `koanf:"plan_deadline" validate:"gt=0"`
	NodeTimeout  time.Duration            `koanf:"node_timeout" validate:"gt=0"`
	PoolSize     int                      `koanf:"pool_size" validate:"gte=0"`
	Timeouts     map[string]time.Duration `koanf:"timeouts" validate:"dive,gt=0"`
}

// CacheConfig sets the response cache lifetime.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"gt=0"`
}

// GitHubConfig enables the create-ticket and review-code capabilities.
type GitHubConfig struct {
	Token   string   `koanf:"token"`
	BaseURL string   `koanf:"base_url" validate:"omitempty,url"`
	Owner   string   `koanf:"owner" validate:"required_with=Token"`
	Repo    string   `koanf:"repo" validate:"required_with=Token"`
	Labels  []string `koanf:"labels"`
}

// Enabled reports whether a token was configured.
func (g GitHubConfig) Enabled() bool {
	return g.Token != ""
}

// NATSConfig enables the post-message capability.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject" validate:"required_with=URL"`
}

// Enabled reports whether a server URL was configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Dir         string        `koanf:"dir"`
	MetricsAddr string        `koanf:"metrics_addr" validate:"omitempty,hostname_port"`
	Settle      time.Duration `koanf:"settle" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		LogLevel: "info",
		AI: AIConfig{
			EmbeddingHost:   aiDefaults.EmbeddingHost,
			CompletionHost:  aiDefaults.CompletionHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			CompletionModel: aiDefaults.CompletionModel,
			MaxTokens:       512,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "conductor.db",
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "conductor",
			},
		},
		Ingestion: IngestionConfig{
			RequestsPerMinute: 60,
			BatchSize:         32,
			MaxAttempts:       5,
			BaseDelay:         500 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			VectorWeight:    0.7,
			KeywordWeight:   0.3,
			CandidateFactor: 4,
			MinScore:        0.2,
		},
		Planner: PlannerConfig{Kind: PlannerRules},
		Scheduler: SchedulerConfig{
			PlanDeadline: 120 * time.Second,
			NodeTimeout:  30 * time.Second,
		},
		Cache: CacheConfig{TTL: 10 * time.Minute},
		NATS:  NATSConfig{Subject: "conductor.messages"},
		Watch: WatchConfig{Settle: 200 * time.Millisecond},
	}
}

var validate = newValidator()

// newValidator reports fields by their koanf keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", core.ErrValidation, formatValidationError(err))
	}
	if c.Retrieval.VectorWeight+c.Retrieval.KeywordWeight <= 0 {
		return fmt.Errorf("%w: retrieval weights must not both be zero", core.ErrValidation)
	}
	for name := range c.Scheduler.Timeouts {
		if _, err := core.ParseCapability(name); err != nil {
			return fmt.Errorf("%w: scheduler.timeouts: %w", core.ErrValidation, err)
		}
	}
	return nil
}

// ProviderConfig converts the AI section into a provider configuration.
func (c *Config) ProviderConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithCompletionHost(c.AI.CompletionHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithCompletionModel(c.AI.CompletionModel),
		ai.WithAPIKey(c.AI.APIKey),
	)
	cfg.Normalize()
	return cfg
}

// CapabilityTimeouts returns the per-capability overrides keyed by capability.
func (c *Config) CapabilityTimeouts() map[core.Capability]time.Duration {
	out := make(map[core.Capability]time.Duration, len(c.Scheduler.Timeouts))
	for name, d := range c.Scheduler.Timeouts {
		if kind, err := core.ParseCapability(name); err == nil {
			out[kind] = d
		}
	}
	return out
}

type validationError []string

func (v validationError) Error() string {
	return strings.Join(v, "; ")
}

func formatValidationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make(validationError, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, formatFieldError(e))
	}
	return msgs
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_without", "required_with", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url", "hostname_port":
		return fmt.Sprintf("%s must be a valid %s", field, e.Tag())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}
