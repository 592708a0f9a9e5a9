package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/contentpilot/intake/internal/api"
	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/lockfile"
	"github.com/contentpilot/intake/internal/models"
	"github.com/contentpilot/intake/internal/profile"
	"github.com/contentpilot/intake/internal/store"
	"github.com/contentpilot/intake/internal/util"
	"github.com/contentpilot/intake/internal/validator"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ContentPilot state data
	DefaultStateDir = "/var/lib/contentpilot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "contentpilot.db"
	// ProviderOpenAI selects the OpenAI-compatible validator (Groq by default)
	ProviderOpenAI = "openai"
	// ProviderGemini selects the Gemini validator
	ProviderGemini = "gemini"
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()
	if config.LogLevel != os.Getenv("LOG_LEVEL") {
		initializeLogger(config.LogLevel)
	}

	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("ContentPilot failed to run", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("ContentPilot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	APIAddr          string
	Provider         string
	APIKey           string
	ValidatorBaseURL string
	ValidatorModel   string
	PromptFile       string
	CatalogFile      string
	ReplyDelay       time.Duration
	NextDelay        time.Duration
	CallTimeout      time.Duration
	LockStateDir     bool
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	provider         *string
	apiKey           *string
	validatorBaseURL *string
	validatorModel   *string
	promptFile       *string
	catalogFile      *string
	replyDelay       *time.Duration
	nextDelay        *time.Duration
	callTimeout      *time.Duration
	lockStateDir     *bool
	devLogin         *string
}

// initializeLogger sets up structured logging; debug unless LOG_LEVEL says otherwise
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil || level == "" {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("CONTENTPILOT_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		Provider:         strings.ToLower(os.Getenv("VALIDATOR_PROVIDER")),
		ValidatorBaseURL: os.Getenv("VALIDATOR_BASE_URL"),
		ValidatorModel:   os.Getenv("VALIDATOR_MODEL"),
		PromptFile:       os.Getenv("VALIDATOR_PROMPT_FILE"),
		CatalogFile:      os.Getenv("INTAKE_CATALOG_FILE"),
		ReplyDelay:       util.ParseDurationEnv("INTAKE_REPLY_DELAY", intake.DefaultReplyDelay),
		NextDelay:        util.ParseDurationEnv("INTAKE_NEXT_DELAY", intake.DefaultNextDelay),
		CallTimeout:      util.ParseDurationEnv("INTAKE_CALL_TIMEOUT", intake.DefaultCallTimeout),
		LockStateDir:     util.ParseBoolEnv("CONTENTPILOT_LOCK_STATE_DIR", true),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONTENTPILOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.Provider == "" {
		config.Provider = ProviderOpenAI
	}
	if config.Provider == ProviderGemini {
		config.APIKey = util.FirstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	} else {
		config.APIKey = util.FirstEnv("GROQ_API_KEY", "OPENAI_API_KEY")
	}

	// Without a database URL the profiles live in SQLite inside the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_TYPE", store.DetectDSNType(config.DatabaseURL),
		"CONTENTPILOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"VALIDATOR_PROVIDER", config.Provider,
		"API_KEY_SET", config.APIKey != "",
		"VALIDATOR_BASE_URL", config.ValidatorBaseURL,
		"VALIDATOR_MODEL", config.ValidatorModel,
		"INTAKE_CATALOG_FILE", config.CatalogFile,
		"INTAKE_REPLY_DELAY", config.ReplyDelay,
		"INTAKE_NEXT_DELAY", config.NextDelay,
		"INTAKE_CALL_TIMEOUT", config.CallTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for ContentPilot data (overrides $CONTENTPILOT_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:         flag.String("validator-provider", config.Provider, "validator backend, openai or gemini (overrides $VALIDATOR_PROVIDER)"),
		apiKey:           flag.String("api-key", config.APIKey, "validator API key (overrides $GROQ_API_KEY/$OPENAI_API_KEY or $GEMINI_API_KEY/$GOOGLE_API_KEY)"),
		validatorBaseURL: flag.String("validator-base-url", config.ValidatorBaseURL, "OpenAI-compatible endpoint (overrides $VALIDATOR_BASE_URL)"),
		validatorModel:   flag.String("validator-model", config.ValidatorModel, "validator model name (overrides $VALIDATOR_MODEL)"),
		promptFile:       flag.String("validator-prompt-file", config.PromptFile, "file holding the validator system prompt (overrides $VALIDATOR_PROMPT_FILE)"),
		catalogFile:      flag.String("catalog", config.CatalogFile, "YAML question catalog (overrides $INTAKE_CATALOG_FILE)"),
		replyDelay:       flag.Duration("reply-delay", config.ReplyDelay, "pause after a personalized reply (overrides $INTAKE_REPLY_DELAY)"),
		nextDelay:        flag.Duration("next-delay", config.NextDelay, "pause before the next question (overrides $INTAKE_NEXT_DELAY)"),
		callTimeout:      flag.Duration("call-timeout", config.CallTimeout, "bound on each validator or save call (overrides $INTAKE_CALL_TIMEOUT)"),
		lockStateDir:     flag.Bool("lock-state-dir", config.LockStateDir, "refuse to start when another server uses the state directory"),
		devLogin:         flag.String("dev-login", "", "create a user with this email, print a session token and exit"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_type", store.DetectDSNType(*flags.dbDSN),
		"apiAddr", *flags.apiAddr,
		"apiKeySet", *flags.apiKey != "",
		"catalog", *flags.catalogFile,
		"devLogin", *flags.devLogin != "")

	// Follow -state-dir when the DSN is still the default SQLite file.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

func run(ctx context.Context, flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}

	// Only servers take the lock so -dev-login works next to a running server.
	if usesSQLite(flags) && *flags.lockStateDir && *flags.devLogin == "" {
		lock, err := lockfile.Acquire(*flags.stateDir, *flags.apiAddr)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if *flags.devLogin != "" {
		sess, err := devLogin(ctx, st, *flags.devLogin, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(sess.Token)
		return nil
	}

	catalog, err := loadCatalog(*flags.catalogFile)
	if err != nil {
		return err
	}

	v, err := newValidator(ctx, flags)
	if err != nil {
		if errors.Is(err, validator.ErrMissingAPIKey) {
			return fmt.Errorf("%w: set the provider's API key or pass -api-key", err)
		}
		return err
	}

	slog.Info("Bootstrapping ContentPilot intake", "steps", catalog.Len(), "store", store.DetectDSNType(*flags.dbDSN))
	srv := api.NewServer(catalog, v, profile.NewService(st), st, buildAPIOptions(flags)...)
	return srv.Run(ctx)
}

func usesSQLite(flags Flags) bool {
	return *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == store.DriverSQLite
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !usesSQLite(flags) {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

func loadCatalog(path string) (*intake.Catalog, error) {
	if path == "" {
		return intake.DefaultCatalog(), nil
	}
	catalog, err := intake.LoadCatalogFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	slog.Debug("Loaded catalog file", "path", path, "steps", catalog.Len())
	return catalog, nil
}

// devLogin stands in for the sign-in provider during local development. The
// user id is derived from the email so repeated logins reuse one account.
func devLogin(ctx context.Context, st store.SessionStore, email string, now time.Time) (models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return models.Session{}, fmt.Errorf("invalid email %q", email)
	}
	user := models.User{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		Name:  strings.SplitN(email, "@", 2)[0],
		Email: email,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return models.Session{}, err
	}
	sess := models.Session{
		Token:   uuid.NewString(),
		UserID:  user.ID,
		Expires: now.Add(models.SessionMaxAge),
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		return models.Session{}, err
	}
	slog.Info("devLogin: session created", "userID", user.ID, "expires", sess.Expires)
	return sess, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == store.DriverPostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

func newValidator(ctx context.Context, flags Flags) (intake.Validator, error) {
	opts := buildValidatorOptions(flags)
	switch *flags.provider {
	case ProviderOpenAI, "groq":
		return validator.New(opts...)
	case ProviderGemini:
		return validator.NewGemini(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown validator provider %q", *flags.provider)
	}
}

// buildValidatorOptions constructs validator client options
func buildValidatorOptions(flags Flags) []validator.Option {
	var opts []validator.Option
	if *flags.apiKey != "" {
		opts = append(opts, validator.WithAPIKey(*flags.apiKey))
	}
	if *flags.validatorBaseURL != "" {
		opts = append(opts, validator.WithBaseURL(*flags.validatorBaseURL))
	}
	if *flags.validatorModel != "" {
		opts = append(opts, validator.WithModel(*flags.validatorModel))
	}
	if *flags.promptFile != "" {
		opts = append(opts, validator.WithSystemPromptFile(*flags.promptFile))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	apiOpts = append(apiOpts, api.WithIntakeOptions(
		intake.WithDelays(*flags.replyDelay, *flags.nextDelay),
		intake.WithCallTimeout(*flags.callTimeout),
	))
	return apiOpts
}
