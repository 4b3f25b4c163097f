// Package config defines the configuration contract shared by the bots and
// loads it from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken      = "TELEGRAM_TOKEN"
	KeyBotOwner           = "BOT_OWNER"
	KeyMongoURI           = "MONGO_URI"
	KeyMongoDB            = "MONGO_DB"
	KeyAppEnv             = "APP_ENV"
	KeyLogLevel           = "LOG_LEVEL"
	KeyHTTPPort           = "HTTP_PORT"
	KeyAPIURL             = "API_URL"
	KeyWebsiteURL         = "WEBSITE_URL"
	KeySupportURL         = "SUPPORT_URL"
	KeyPendingStore       = "PENDING_STORE"
	KeyPendingStateFile   = "PENDING_STATE_FILE"
	KeyRedisURL           = "REDIS_URL"
	KeyDepositTimeout     = "DEPOSIT_TIMEOUT"
	KeySettingsTTL        = "SETTINGS_TTL"
	KeyRateLimitWindow    = "RATE_LIMIT_WINDOW"
	KeyRateLimitMax       = "RATE_LIMIT_MAX"
	KeyRateLimitBlock     = "RATE_LIMIT_BLOCK"
	KeyReferralAttempts   = "REFERRAL_ATTEMPTS"
	KeyReferralDelay      = "REFERRAL_DELAY"
	KeyWarningDeleteAfter = "WARNING_DELETE_AFTER"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Pending-state backends.
	PendingStoreFile  = "file"
	PendingStoreRedis = "redis"

	// Defaults for optional settings.
	DefaultAppEnv             = EnvProduction
	DefaultLogLevel           = "info"
	DefaultHTTPPort           = 8080
	DefaultWebsiteURL         = "https://lux-on.org"
	DefaultSupportURL         = "https://t.me/operator_luxon_bot"
	DefaultPendingStore       = PendingStoreFile
	DefaultPendingStateFile   = "pending_deposit_states.json"
	DefaultDepositTimeout     = 5 * time.Minute
	DefaultSettingsTTL        = 5 * time.Minute
	DefaultRateLimitWindow    = time.Minute
	DefaultRateLimitMax       = 30
	DefaultRateLimitBlock     = 15 * time.Minute
	DefaultReferralAttempts   = 3
	DefaultReferralDelay      = 2 * time.Second
	DefaultWarningDeleteAfter = 10 * time.Second

	// Recommended database names by environment.
	DefaultMongoDBProd = "luxon_bot"
	DefaultMongoDBDev  = "luxon_bot_dev"
)

// Service identifies which binary is loading configuration; it narrows the set
// of required keys.
type Service string

const (
	ServicePaymentBot     Service = "payment-bot"
	ServiceModerator      Service = "moderator-bot"
	ServiceEmojiCollector Service = "emoji-collector"
	ServiceUserInfo       Service = "userinfo"
	ServiceWithdraw1xBet  Service = "withdraw-1xbet"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string    // environment variable name
	Example     string    // human-friendly sample value
	Required    bool      // whether the bot must refuse to start without this value
	Default     string    // default when unset (empty when required)
	Description string    // what the variable controls
	Notes       string    // extra guidance or policies
	Services    []Service // services the key applies to; empty means all
}

// AppliesTo reports whether the key is read by the given service.
func (v VarSpec) AppliesTo(service Service) bool {
	if len(v.Services) == 0 {
		return true
	}
	for _, s := range v.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Contract enumerates the authoritative configuration keys for the bots.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
		Notes:       "Each binary runs with its own token.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Telegram user_id allowed to manage the forbidden word list.",
		Services:    []Service{ServiceModerator},
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyAPIURL,
		Example:     "https://admin.example.org",
		Required:    true,
		Description: "Base URL of the payment backend.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyWebsiteURL,
		Example:     DefaultWebsiteURL,
		Default:     DefaultWebsiteURL,
		Description: "Website opened from the history and instruction buttons.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeySupportURL,
		Example:     DefaultSupportURL,
		Default:     DefaultSupportURL,
		Description: "Support chat link.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyPendingStore,
		Example:     PendingStoreFile + " / " + PendingStoreRedis,
		Default:     DefaultPendingStore,
		Description: "Backend for deposits awaiting a receipt photo.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyPendingStateFile,
		Example:     DefaultPendingStateFile,
		Default:     DefaultPendingStateFile,
		Description: "JSON file used when PENDING_STORE=file.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyRedisURL,
		Example:     "redis://localhost:6379/0",
		Description: "Redis connection URL used when PENDING_STORE=redis.",
		Notes:       "Required when PENDING_STORE=" + PendingStoreRedis + ".",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyDepositTimeout,
		Example:     "5m",
		Default:     DefaultDepositTimeout.String(),
		Description: "Payment window shown with the QR code.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeySettingsTTL,
		Example:     "5m",
		Default:     DefaultSettingsTTL.String(),
		Description: "How long payment settings are cached before refetching.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyRateLimitWindow,
		Example:     "1m",
		Default:     DefaultRateLimitWindow.String(),
		Description: "Rate-limit counting window per user.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyRateLimitMax,
		Example:     strconv.Itoa(DefaultRateLimitMax),
		Default:     strconv.Itoa(DefaultRateLimitMax),
		Description: "Events allowed per user within one window.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyRateLimitBlock,
		Example:     "15m",
		Default:     DefaultRateLimitBlock.String(),
		Description: "Block duration after the limit is exceeded.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyReferralAttempts,
		Example:     strconv.Itoa(DefaultReferralAttempts),
		Default:     strconv.Itoa(DefaultReferralAttempts),
		Description: "Attempts made to register a referral link.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyReferralDelay,
		Example:     "2s",
		Default:     DefaultReferralDelay.String(),
		Description: "Delay between referral registration attempts.",
		Services:    []Service{ServicePaymentBot},
	},
	{
		Key:         KeyWarningDeleteAfter,
		Example:     "10s",
		Default:     DefaultWarningDeleteAfter.String(),
		Description: "How long the moderator warning stays in the chat; 0 keeps it.",
		Services:    []Service{ServiceModerator},
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	Service       Service
	TelegramToken string
	BotOwnerID    int64
	MongoURI      string
	MongoDB       string
	AppEnv        string
	LogLevel      string
	HTTPPort      int

	APIURL     string
	WebsiteURL string
	SupportURL string

	PendingStore     string
	PendingStateFile string
	RedisURL         string

	DepositTimeout   time.Duration
	SettingsTTL      time.Duration
	RateLimitWindow  time.Duration
	RateLimitMax     int
	RateLimitBlock   time.Duration
	ReferralAttempts int
	ReferralDelay    time.Duration

	WarningDeleteAfter time.Duration
}

// Load resolves configuration for the given service from the environment
// (with optional dotenv in development).
func Load(service Service) (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	values := make(map[string]string, len(Contract))
	missing := make([]string, 0)
	for _, spec := range Contract {
		if !spec.AppliesTo(service) {
			continue
		}
		val := firstNonEmpty(os.Getenv(spec.Key), spec.Default)
		if val == "" && spec.Required {
			missing = append(missing, spec.Key)
			continue
		}
		values[spec.Key] = val
	}

	cfg := Config{
		Service:          service,
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:    values[KeyTelegramToken],
		MongoURI:         values[KeyMongoURI],
		MongoDB:          values[KeyMongoDB],
		LogLevel:         firstNonEmpty(values[KeyLogLevel], DefaultLogLevel),
		APIURL:           strings.TrimRight(values[KeyAPIURL], "/"),
		WebsiteURL:       values[KeyWebsiteURL],
		SupportURL:       values[KeySupportURL],
		PendingStore:     strings.ToLower(values[KeyPendingStore]),
		PendingStateFile: values[KeyPendingStateFile],
		RedisURL:         values[KeyRedisURL],
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	p := parser{values: values}
	cfg.BotOwnerID = p.int64Value(KeyBotOwner)
	cfg.HTTPPort = p.positiveInt(KeyHTTPPort)
	cfg.DepositTimeout = p.duration(KeyDepositTimeout)
	cfg.SettingsTTL = p.duration(KeySettingsTTL)
	cfg.RateLimitWindow = p.duration(KeyRateLimitWindow)
	cfg.RateLimitMax = p.positiveInt(KeyRateLimitMax)
	cfg.RateLimitBlock = p.duration(KeyRateLimitBlock)
	cfg.ReferralAttempts = p.positiveInt(KeyReferralAttempts)
	cfg.ReferralDelay = p.duration(KeyReferralDelay)
	cfg.WarningDeleteAfter = p.duration(KeyWarningDeleteAfter)
	if p.err != nil {
		return Config{}, p.err
	}

	if service == ServicePaymentBot {
		if err := validatePendingStore(cfg); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration with secrets masked.
func FormatRedacted(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "service: %s\n", cfg.Service)
	fmt.Fprintf(&b, "telegram_token: %s\n", redactToken(cfg.TelegramToken))
	if cfg.BotOwnerID != 0 {
		fmt.Fprintf(&b, "bot_owner: %d\n", cfg.BotOwnerID)
	}
	fmt.Fprintf(&b, "mongo_uri: %s\n", redactURI(cfg.MongoURI))
	fmt.Fprintf(&b, "mongo_db: %s\n", cfg.MongoDB)
	fmt.Fprintf(&b, "app_env: %s\n", cfg.AppEnv)
	fmt.Fprintf(&b, "log_level: %s\n", cfg.LogLevel)

	if cfg.Service == ServicePaymentBot {
		fmt.Fprintf(&b, "http_port: %d\n", cfg.HTTPPort)
		fmt.Fprintf(&b, "api_url: %s\n", redactURI(cfg.APIURL))
		fmt.Fprintf(&b, "pending_store: %s\n", cfg.PendingStore)
		if cfg.PendingStore == PendingStoreRedis {
			fmt.Fprintf(&b, "redis_url: %s\n", redactURI(cfg.RedisURL))
		} else {
			fmt.Fprintf(&b, "pending_state_file: %s\n", cfg.PendingStateFile)
		}
		fmt.Fprintf(&b, "deposit_timeout: %s\n", cfg.DepositTimeout)
		fmt.Fprintf(&b, "settings_ttl: %s\n", cfg.SettingsTTL)
		fmt.Fprintf(&b, "rate_limit: %d per %s, block %s\n", cfg.RateLimitMax, cfg.RateLimitWindow, cfg.RateLimitBlock)
		fmt.Fprintf(&b, "referral_retry: %d x %s\n", cfg.ReferralAttempts, cfg.ReferralDelay)
	}
	if cfg.Service == ServiceModerator {
		fmt.Fprintf(&b, "warning_delete_after: %s\n", cfg.WarningDeleteAfter)
	}

	return strings.TrimRight(b.String(), "\n")
}

type parser struct {
	values map[string]string
	err    error
}

func (p *parser) int64Value(key string) int64 {
	raw, ok := p.values[key]
	if !ok || raw == "" || p.err != nil {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return 0
	}
	return val
}

func (p *parser) positiveInt(key string) int {
	raw, ok := p.values[key]
	if !ok || raw == "" || p.err != nil {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return 0
	}
	if val <= 0 {
		p.err = fmt.Errorf("%s must be greater than 0", key)
		return 0
	}
	return val
}

// duration accepts Go duration strings and bare integers as seconds.
func (p *parser) duration(key string) time.Duration {
	raw, ok := p.values[key]
	if !ok || raw == "" || p.err != nil {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			p.err = fmt.Errorf("%s must not be negative", key)
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return 0
	}
	if val < 0 {
		p.err = fmt.Errorf("%s must not be negative", key)
		return 0
	}
	return val
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateMongoURI(raw string) error {
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "mongodb://") && !strings.HasPrefix(raw, "mongodb+srv://") {
		return fmt.Errorf("invalid %s: scheme must be mongodb:// or mongodb+srv://", KeyMongoURI)
	}
	return nil
}

func validatePendingStore(cfg Config) error {
	switch cfg.PendingStore {
	case PendingStoreFile:
		if cfg.PendingStateFile == "" {
			return fmt.Errorf("%s is required when %s=%s", KeyPendingStateFile, KeyPendingStore, PendingStoreFile)
		}
	case PendingStoreRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("%s is required when %s=%s", KeyRedisURL, KeyPendingStore, PendingStoreRedis)
		}
	default:
		return fmt.Errorf("invalid %s: must be %q or %q", KeyPendingStore, PendingStoreFile, PendingStoreRedis)
	}
	return nil
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "...redacted"
	}
	return token[:4] + "...redacted"
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "unparseable...redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
