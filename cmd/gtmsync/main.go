package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/gtmsync/internal/deleter"
	"github.com/agentworkforce/gtmsync/internal/exporter"
	"github.com/agentworkforce/gtmsync/internal/importer"
	"github.com/agentworkforce/gtmsync/internal/snapshot"
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
	"github.com/agentworkforce/gtmsync/internal/watch"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	defaultEnvFile = ".env"
	defaultTimeout = 60 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

type usageError struct {
	err error
}

func (e usageError) Error() string {
	return e.err.Error()
}

func (e usageError) Unwrap() error {
	return e.err
}

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

type globalFlags struct {
	envFile    string
	logLevel   string
	timeout    time.Duration
	apiBaseURL string

	url       string
	account   string
	container string
	workspace string
}

type importFlags struct {
	directory string
	store     string
	validate  bool
	watch     bool
	debounce  time.Duration
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	logger := log.NewWithOptions(stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "gtmsync",
	})
	root := newRootCommand(logger)
	root.SetArgs(args)
	root.SetOut(stderr)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var usageErr usageError
	if errors.As(err, &usageErr) || strings.HasPrefix(err.Error(), "unknown command") {
		logger.Error(err.Error())
		fmt.Fprintln(stderr, "run 'gtmsync --help' for usage")
		return exitUsage
	}
	logger.Error("failed", "err", err)
	return exitFailure
}

func newRootCommand(logger *log.Logger) *cobra.Command {
	global := &globalFlags{}
	root := &cobra.Command{
		Use:           "gtmsync",
		Short:         "Sync Google Tag Manager workspaces with local JSON files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(global.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return usageError{err: err}
			}
			if !cmd.Flags().Changed("log-level") {
				global.logLevel = envOrDefault("GTMSYNC_LOG_LEVEL", global.logLevel)
			}
			level, err := log.ParseLevel(global.logLevel)
			if err != nil {
				return usagef("invalid log level %q", global.logLevel)
			}
			logger.SetLevel(level)
			if !cmd.Flags().Changed("timeout") {
				global.timeout = durationEnv(logger, "GTMSYNC_TIMEOUT", global.timeout)
			}
			if global.timeout <= 0 {
				global.timeout = defaultTimeout
			}
			if !cmd.Flags().Changed("api-base-url") {
				global.apiBaseURL = envOrDefault("GTM_API_BASE_URL", global.apiBaseURL)
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&global.envFile, "env-file", defaultEnvFile, "dotenv file with credentials")
	flags.StringVar(&global.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.DurationVar(&global.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flags.StringVar(&global.apiBaseURL, "api-base-url", tagmanager.DefaultBaseURL, "Tag Manager API base URL")
	flags.StringVar(&global.url, "url", "", "workspace URL (accounts/<id>/containers/<id>/workspaces/<id>)")
	flags.StringVar(&global.account, "account", "", "account ID")
	flags.StringVar(&global.container, "container", "", "container ID")
	flags.StringVar(&global.workspace, "workspace", "", "workspace ID")
	_ = flags.MarkHidden("api-base-url")

	root.AddCommand(
		newExportCommand(global, logger),
		newImportCommand(global, logger),
		newDeleteCommand(global, logger),
		newRevertBuiltInsCommand(global, logger),
	)
	return root
}

func newExportCommand(global *globalFlags, logger *log.Logger) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tags, triggers and variables to JSON files",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ws, err := resolveWorkspace(global)
			if err != nil {
				return err
			}
			client, err := newClient(global)
			if err != nil {
				return err
			}
			publicID, err := containerPublicID(ctx, client, ws)
			if err != nil {
				return err
			}
			dir := strings.TrimSpace(output)
			if dir == "" {
				dir = filepath.Join("tmp", publicID)
			}
			logger.Info("starting export", "workspace", ws.Path(), "output", dir)

			summary, err := exporter.Export(ctx, exporter.Options{
				Client:        client,
				Store:         snapshot.NewDirStore(dir),
				WorkspacePath: ws.Path(),
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			logger.Info("export completed", "objects", summary.Total(), "output", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "output directory (default tmp/<public container ID>)")
	return cmd
}

func newImportCommand(global *globalFlags, logger *log.Logger) *cobra.Command {
	opts := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create or update workspace objects from JSON files",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("store") {
				opts.store = envOrDefault("GTMSYNC_STORE", opts.store)
			}
			if !cmd.Flags().Changed("debounce") {
				opts.debounce = durationEnv(logger, "GTMSYNC_DEBOUNCE", opts.debounce)
			}
			return runImport(cmd.Context(), global, opts, logger)
		},
	}
	cmd.Flags().StringVar(&opts.directory, "directory", "", "input directory (default tmp/<public container ID>)")
	cmd.Flags().StringVar(&opts.store, "store", "", "snapshot store DSN (default: the input directory)")
	cmd.Flags().BoolVar(&opts.validate, "validate", false, "validate collections against their JSON schemas first")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep running and re-import when the files change")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", watch.DefaultDebounce, "quiet period before a re-import in watch mode")
	return cmd
}

func runImport(ctx context.Context, global *globalFlags, opts *importFlags, logger *log.Logger) error {
	ws, err := resolveWorkspace(global)
	if err != nil {
		return err
	}
	client, err := newClient(global)
	if err != nil {
		return err
	}
	publicID, err := containerPublicID(ctx, client, ws)
	if err != nil {
		return err
	}
	dir := strings.TrimSpace(opts.directory)
	if dir == "" {
		dir = filepath.Join("tmp", publicID)
	}

	dsn := strings.TrimSpace(opts.store)
	if dsn == "" {
		dsn = dir
	}
	store, release, err := openStore(dsn, publicID)
	if err != nil {
		return err
	}
	defer release()

	dirStore, isDir := store.(*snapshot.DirStore)
	if !isDir && opts.watch {
		return usagef("--watch needs a directory store")
	}

	var validator *snapshot.Validator
	if opts.validate {
		if validator, err = snapshot.NewValidator(); err != nil {
			return err
		}
	}
	imp, err := importer.New(importer.Options{
		Client:        client,
		Store:         store,
		WorkspacePath: ws.Path(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	logger.Info("starting import", "workspace", ws.Path(), "store", dsn)

	once := func(ctx context.Context) error {
		if validator != nil {
			if err := validateStore(ctx, validator, store); err != nil {
				return err
			}
		}
		result, err := imp.Run(ctx)
		logger.Info("import finished",
			"created", result.Created,
			"updated", result.Updated,
			"unchanged", result.Unchanged,
			"dependencies", result.AutoCreated,
			"builtins", result.BuiltInsEnabled,
			"failed", len(result.Failures),
		)
		if err != nil {
			return err
		}
		return result.Err()
	}

	if !opts.watch {
		return once(ctx)
	}

	watcher, err := watch.New(watch.Options{
		Dir:      dirStore.Dir,
		Files:    collectionFiles(),
		Debounce: opts.debounce,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := once(ctx); err != nil {
		logger.Error("import failed", "err", err)
	}
	if err := watcher.Record(); err != nil {
		return err
	}
	logger.Info("watching for changes", "dir", dirStore.Dir)
	return watcher.Run(ctx, once)
}

type removeFlags struct {
	kind      string
	directory string
	store     string
}

func (f *removeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.directory, "directory", "", "also drop the objects from this snapshot directory")
	cmd.Flags().StringVar(&f.store, "store", "", "also drop the objects from this snapshot store DSN")
}

func newDeleteCommand(global *globalFlags, logger *log.Logger) *cobra.Command {
	flags := &removeFlags{}
	cmd := &cobra.Command{
		Use:   "delete --kind KIND NAME...",
		Short: "Delete tags, triggers or variables by name",
		Args:  atLeastOneArg,
		RunE: func(cmd *cobra.Command, names []string) error {
			kind, ok := tagmanager.ParseKind(flags.kind)
			if !ok {
				return usagef("--kind must be tag, trigger or variable, got %q", flags.kind)
			}
			return runRemove(cmd.Context(), global, flags, logger, func(ctx context.Context, opts deleter.Options) (deleter.Summary, error) {
				return deleter.Delete(ctx, opts, kind, names)
			})
		},
	}
	cmd.Flags().StringVar(&flags.kind, "kind", "", "object kind: tag, trigger or variable")
	flags.register(cmd)
	return cmd
}

func newRevertBuiltInsCommand(global *globalFlags, logger *log.Logger) *cobra.Command {
	flags := &removeFlags{}
	cmd := &cobra.Command{
		Use:   "revert-builtins TYPE...",
		Short: "Disable built-in variables by type",
		Args:  atLeastOneArg,
		RunE: func(cmd *cobra.Command, types []string) error {
			return runRemove(cmd.Context(), global, flags, logger, func(ctx context.Context, opts deleter.Options) (deleter.Summary, error) {
				return deleter.RevertBuiltIns(ctx, opts, types)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func runRemove(
	ctx context.Context,
	global *globalFlags,
	flags *removeFlags,
	logger *log.Logger,
	remove func(context.Context, deleter.Options) (deleter.Summary, error),
) error {
	ws, err := resolveWorkspace(global)
	if err != nil {
		return err
	}
	client, err := newClient(global)
	if err != nil {
		return err
	}
	opts := deleter.Options{Client: client, WorkspacePath: ws.Path(), Logger: logger}

	dsn := strings.TrimSpace(flags.store)
	if dsn == "" {
		dsn = strings.TrimSpace(flags.directory)
	}
	if dsn != "" {
		publicID, err := containerPublicID(ctx, client, ws)
		if err != nil {
			return err
		}
		store, release, err := openStore(dsn, publicID)
		if err != nil {
			return err
		}
		defer release()
		opts.Store = store
	}

	summary, err := remove(ctx, opts)
	logger.Info("removal finished", "removed", len(summary.Removed), "missing", len(summary.Missing), "pruned", summary.Pruned)
	return err
}

// openStore builds the store for dsn. Directory stores must exist and are
// locked until release is called.
func openStore(dsn, namespace string) (snapshot.Store, func(), error) {
	store, err := snapshot.BuildStoreFromDSN(withNamespace(dsn, namespace))
	if err != nil {
		return nil, nil, usageError{err: err}
	}
	release := func() { _ = snapshot.Close(store) }
	dirStore, ok := store.(*snapshot.DirStore)
	if !ok {
		return store, release, nil
	}
	if info, statErr := os.Stat(dirStore.Dir); statErr != nil || !info.IsDir() {
		release()
		return nil, nil, usagef("directory not found: %s", dirStore.Dir)
	}
	lock, err := snapshot.Lock(dirStore.Dir)
	if err != nil {
		release()
		return nil, nil, err
	}
	return store, func() {
		_ = lock.Unlock()
		_ = snapshot.Close(store)
	}, nil
}

func validateStore(ctx context.Context, validator *snapshot.Validator, store snapshot.Store) error {
	for _, collection := range snapshot.Collections {
		objects, ok, err := store.Load(ctx, collection)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := validator.Validate(collection, objects); err != nil {
			return err
		}
	}
	return nil
}

func collectionFiles() []string {
	files := make([]string, 0, len(snapshot.Collections))
	for _, collection := range snapshot.Collections {
		files = append(files, snapshot.FileName(collection))
	}
	return files
}

func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("unexpected arguments: %s", strings.Join(args, " "))
	}
	return nil
}

func atLeastOneArg(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usagef("at least one argument is required")
	}
	return nil
}

func resolveWorkspace(global *globalFlags) (tagmanager.Workspace, error) {
	rawURL := strings.TrimSpace(global.url)
	ws := tagmanager.Workspace{
		AccountID:   strings.TrimSpace(global.account),
		ContainerID: strings.TrimSpace(global.container),
		WorkspaceID: strings.TrimSpace(global.workspace),
	}
	if rawURL == "" && ws == (tagmanager.Workspace{}) {
		rawURL = strings.TrimSpace(os.Getenv("GTM_WORKSPACE_URL"))
	}
	if rawURL != "" {
		parsed, ok := tagmanager.ParseWorkspaceURL(rawURL)
		if !ok {
			return tagmanager.Workspace{}, usagef("could not parse workspace URL: %s", rawURL)
		}
		return parsed, nil
	}
	if !ws.Complete() {
		return tagmanager.Workspace{}, usagef("account, container and workspace IDs are required (via --url or --account/--container/--workspace)")
	}
	return ws, nil
}

func newClient(global *globalFlags) (*tagmanager.HTTPClient, error) {
	httpClient := &http.Client{Timeout: global.timeout}
	tokens, err := newTokenSource(httpClient)
	if err != nil {
		return nil, usageError{err: err}
	}
	return tagmanager.NewHTTPClient(tagmanager.HTTPClientOptions{
		BaseURL:    global.apiBaseURL,
		Tokens:     tokens,
		HTTPClient: httpClient,
	}), nil
}

// newTokenSource prefers the refresh-token flow and falls back to a fixed
// access token.
func newTokenSource(httpClient *http.Client) (tagmanager.TokenSource, error) {
	if refreshToken := strings.TrimSpace(os.Getenv("GTM_REFRESH_TOKEN")); refreshToken != "" {
		source, err := tagmanager.NewRefreshTokenSource(tagmanager.RefreshTokenSourceOptions{
			ClientID:     os.Getenv("GTM_CLIENT_ID"),
			ClientSecret: os.Getenv("GTM_CLIENT_SECRET"),
			RefreshToken: refreshToken,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: GTM_CLIENT_ID and GTM_CLIENT_SECRET are required with GTM_REFRESH_TOKEN", err)
		}
		return source, nil
	}
	if accessToken := strings.TrimSpace(os.Getenv("GTM_ACCESS_TOKEN")); accessToken != "" {
		return tagmanager.StaticTokenSource(accessToken), nil
	}
	return nil, fmt.Errorf("%w: set GTM_REFRESH_TOKEN (with GTM_CLIENT_ID and GTM_CLIENT_SECRET) or GTM_ACCESS_TOKEN", tagmanager.ErrMissingCredentials)
}

func containerPublicID(ctx context.Context, client tagmanager.Client, ws tagmanager.Workspace) (string, error) {
	container, err := client.GetContainer(ctx, ws.ContainerPath())
	if err != nil {
		return "", fmt.Errorf("get container: %w", err)
	}
	if publicID := strings.TrimSpace(container.PublicID); publicID != "" {
		return publicID, nil
	}
	return "GTM-" + ws.ContainerID, nil
}

// withNamespace scopes SQL stores to the container unless the DSN already
// names a namespace.
func withNamespace(dsn, namespace string) string {
	if !strings.Contains(dsn, "://") {
		return dsn
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return dsn
	}
	q := parsed.Query()
	if strings.TrimSpace(q.Get("namespace")) != "" {
		return dsn
	}
	q.Set("namespace", namespace)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// loadEnvFile loads dotenv values without overriding the environment. A
// missing default file is fine; a missing explicit one is not.
func loadEnvFile(path string, explicit bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(logger *log.Logger, name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warnf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
