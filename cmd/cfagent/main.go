// Command cfagent drives one convergent policy evaluation pass: load
// a YAML fixture bundle (or a local directory of them, or an s3://
// reference resolved by internal/policysource), assemble an
// internal/evalctx.Context, run it to completion, and render a report.
//
// Grounded on oriys-nova/cmd/nova/main.go's root-command/persistent-
// flags/RunE/subcommand-constructor-function idiom.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cfengine-go/promise-engine/internal/actuator"
	"github.com/cfengine-go/promise-engine/internal/classes"
	cfconfig "github.com/cfengine-go/promise-engine/internal/config"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/domain/fixture"
	"github.com/cfengine-go/promise-engine/internal/evalctx"
	"github.com/cfengine-go/promise-engine/internal/kv"
	"github.com/cfengine-go/promise-engine/internal/lock"
	"github.com/cfengine-go/promise-engine/internal/logging"
	"github.com/cfengine-go/promise-engine/internal/metrics"
	"github.com/cfengine-go/promise-engine/internal/observability"
	"github.com/cfengine-go/promise-engine/internal/policysource"
	"github.com/cfengine-go/promise-engine/internal/report"
)

var (
	policyFile    string
	defineClasses []string
	negateClasses []string
	bypassLock    bool
	dryRun        bool
	inform        bool
	verbose       bool
	debug         bool
	workdir       string
	configPath    string
	reportFormat  string
	purgeLocks    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "cfagent",
		Short: "Convergent policy evaluation agent",
	}

	root.PersistentFlags().StringVarP(&policyFile, "file", "f", "", "policy entry point: a YAML file, a directory of them, or an s3://bucket/key tarball")
	root.PersistentFlags().StringArrayVarP(&defineClasses, "define", "D", nil, "add a soft class at start (repeatable)")
	root.PersistentFlags().StringArrayVarP(&negateClasses, "negate", "N", nil, "negate a class at start (repeatable)")
	root.PersistentFlags().BoolVarP(&bypassLock, "bypass-locks", "K", false, "bypass the lock manager")
	root.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "dry run: no actuator side effects")
	root.PersistentFlags().BoolVarP(&inform, "inform", "I", false, "inform-level logging")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose-level logging")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug-level logging")
	root.PersistentFlags().StringVar(&workdir, "workdir", defaultWorkdir(), "agent workspace directory")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (optional, env vars still apply on top)")

	root.AddCommand(runCmd(), reportCmd(), classesCmd(), locksCmd(), versionCmd())
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ee, ok := err.(exitError); ok {
			return ee.code
		}
		return 1
	}
	return 0
}

func defaultWorkdir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cfagent")
	}
	return "/var/cfagent"
}

func setupLogging() {
	switch {
	case debug:
		logging.SetVerbosity(2)
	case verbose:
		logging.SetVerbosity(1)
	case inform:
		logging.SetVerbosity(0)
	}
}

// initTelemetry starts the observability and metrics packages from
// cfg, returning a shutdown func the caller must defer. Both packages
// are safe to leave uninitialized (no-op tracer, nil-guarded metrics),
// so a disabled config here is a deliberate choice, not an oversight.
func initTelemetry(ctx context.Context, cfg *cfconfig.Config) (func(), error) {
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if cfg.Observability.Metrics.Enabled {
		metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}
	return func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			logging.Op().Warn("shutdown tracing", slog.Any("error", err))
		}
	}, nil
}

func loadConfig() (*cfconfig.Config, error) {
	var cfg *cfconfig.Config
	var err error
	if configPath != "" {
		cfg, err = cfconfig.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	} else {
		cfg = cfconfig.DefaultConfig()
	}
	cfconfig.LoadFromEnv(cfg)
	return cfg, nil
}

// ensureWorkspace creates WORKDIR's required subdirectories at mode
// 0700 if missing and aborts if the workspace itself is writable by
// anyone but its owner, per spec.md §6.
func ensureWorkspace(root string) error {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o700); err != nil {
			return fmt.Errorf("create workspace %s: %w", root, err)
		}
	} else if err != nil {
		return fmt.Errorf("stat workspace %s: %w", root, err)
	} else if info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("workspace %s must be owner-only-writable (mode %o), aborting", root, info.Mode().Perm())
	}

	for _, sub := range []string{"state", "inputs", "outputs", "ppkeys", "reports", "modules"} {
		dir := filepath.Join(root, sub)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// resolvePolicy loads policyFile into a domain.Policy, transparently
// fetching an s3:// bundle into WORKDIR/inputs/ first.
func resolvePolicy(ctx context.Context, source, workdir string) (*domain.Policy, error) {
	if source == "" {
		return nil, fmt.Errorf("policy entry point required: use -f")
	}

	if ref, err := policysource.Parse(source); err == nil {
		client, cerr := policysource.NewClient(ctx, os.Getenv("AWS_REGION"))
		if cerr != nil {
			return nil, fmt.Errorf("build s3 client: %w", cerr)
		}
		inputsDir := filepath.Join(workdir, "inputs")
		files, ferr := client.FetchBundle(ctx, ref, inputsDir)
		if ferr != nil {
			return nil, fmt.Errorf("fetch policy bundle: %w", ferr)
		}
		return fixture.LoadAll(files)
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat policy entry point %s: %w", source, err)
	}
	if !info.IsDir() {
		return fixture.Load(source)
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, fmt.Errorf("read policy directory %s: %w", source, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && (strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			files = append(files, filepath.Join(source, name))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML fixtures found in %s", source)
	}
	return fixture.LoadAll(files)
}

// applyStartClasses installs -D/-N classes before the first bundle
// runs.
func applyStartClasses(ec *evalctx.Context) error {
	for _, name := range defineClasses {
		if err := ec.Classes.AddSoft(name, ""); err != nil {
			return fmt.Errorf("define class %s: %w", name, err)
		}
	}
	for _, name := range negateClasses {
		ec.Classes.AddNegated(name)
	}
	return nil
}

// registerActuators registers Noop for every promise type the policy
// uses beyond "classes" — the core ships no other in-house actuator
// (spec.md §1 scopes them out as external collaborators) — plus
// overrides "classes" itself with Noop under -n.
func registerActuators(ec *evalctx.Context, policy *domain.Policy) {
	seen := map[string]bool{}
	walkPromiseTypes(policy, func(t string) {
		if seen[t] || t == "classes" {
			return
		}
		seen[t] = true
		ec.Actuators.Register(t, actuator.Noop{})
	})
	if dryRun {
		ec.Actuators.Register("classes", actuator.Noop{})
	}
}

func walkPromiseTypes(policy *domain.Policy, fn func(string)) {
	for _, b := range policy.Bundles {
		for _, st := range b.Subtypes {
			for _, p := range st.Promises {
				fn(p.Type)
			}
		}
	}
}

func buildStore(cfg *cfconfig.Config) (kv.Store, error) {
	switch cfg.KV.Backend {
	case cfconfig.KVBackendMemory, "":
		return kv.NewMemStore(), nil
	case cfconfig.KVBackendPostgres:
		return kv.NewPostgresStore(context.Background(), cfg.KV.PostgresDSN)
	case cfconfig.KVBackendRedis:
		return kv.NewRedisStore(kv.RedisStoreConfig{
			Addr:      cfg.KV.RedisAddr,
			Password:  cfg.KV.RedisPasswd,
			DB:        cfg.KV.RedisDB,
			KeyPrefix: cfg.KV.RedisKeyPfx,
		}), nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KV.Backend)
	}
}

// buildCriticalSection selects the C7 process-wide critical section to
// match buildStore's backend: a Postgres advisory lock when the locks
// store is itself Postgres-backed (the only backend shared across
// multiple cfagent processes), a Mutex otherwise.
func buildCriticalSection(store kv.Store) lock.CriticalSection {
	if pg, ok := store.(*kv.PostgresStore); ok {
		return &lock.PostgresCriticalSection{Pool: pg.Pool()}
	}
	return &lock.MutexCriticalSection{}
}

func newEvalContext(ctx context.Context, policy *domain.Policy, cfg *cfconfig.Config) (*evalctx.Context, error) {
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	ec, err := evalctx.New(ctx, policy, store, buildCriticalSection(store), evalctx.Config{
		LogDir:               filepath.Join(workdir, "state", "locks"),
		MaxDependsOnPasses:   cfg.Scheduler.MaxDependsOnPasses,
		IgnoreMissingBundles: cfg.Scheduler.IgnoreMissingBundles,
		AgentType:            cfg.Scheduler.AgentType,
		AbortAgentClasses:    cfg.Scheduler.AbortAgentClasses,
		AbortBundleClasses:   cfg.Scheduler.AbortBundleClasses,
		LogPolicy:            cfg.AuditPolicy(),
		DisableLocking:       bypassLock || cfg.Lock.Disabled,
	})
	if err != nil {
		return nil, err
	}

	if err := applyStartClasses(ec); err != nil {
		return nil, err
	}
	registerActuators(ec, policy)
	return ec, nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the loaded policy to a fixed point",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx := cmd.Context()

			if err := ensureWorkspace(workdir); err != nil {
				return err
			}
			policy, err := resolvePolicy(ctx, policyFile, workdir)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shutdown, err := initTelemetry(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			ec, err := newEvalContext(ctx, policy, cfg)
			if err != nil {
				return err
			}

			ctx, span := observability.Tracer().Start(ctx, "cfagent.run")
			runErr := ec.Run(ctx)
			span.End()
			if runErr != nil {
				if isAbort(runErr) {
					metrics.RecordAbort(abortKind(runErr))
					logging.Op().Error("agent aborted", slog.Any("error", runErr))
				}
				return exitError{code: 2, err: runErr}
			}

			for _, rec := range ec.Audit.Records() {
				metrics.RecordPromiseOutcome(rec.Type, rec.Outcome.String())
				logging.Op().Info("promise evaluated",
					slog.String("promiser", rec.Promiser),
					slog.String("outcome", rec.Outcome.String()))
			}
			return nil
		},
	}
	return cmd
}

func isAbort(err error) bool {
	_, ok := err.(*classes.AbortError)
	return ok
}

// abortKind maps an AbortError's class-level kind to the metrics
// "kind" label: "agent" for a full-run abort, "bundle" otherwise.
func abortKind(err error) string {
	ae, ok := err.(*classes.AbortError)
	if !ok || ae.Kind != domain.ErrAbort {
		return "bundle"
	}
	return "agent"
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run the policy and print a knowledge-map report",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx := cmd.Context()

			if err := ensureWorkspace(workdir); err != nil {
				return err
			}
			policy, err := resolvePolicy(ctx, policyFile, workdir)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shutdown, err := initTelemetry(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			ec, err := newEvalContext(ctx, policy, cfg)
			if err != nil {
				return err
			}

			ctx, span := observability.Tracer().Start(ctx, "cfagent.report")
			runErr := ec.Run(ctx)
			span.End()
			if runErr != nil && !isAbort(runErr) {
				return runErr
			}

			format := report.ParseFormat(reportFormat)
			out, err := report.RenderString(ec.Report(), format)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&reportFormat, "format", "text", "report format: text, html, json, yaml")
	return cmd
}

// classesCmd dumps the hard, global-soft and negated class partitions
// after loading and constructing the policy's eval context, without
// running it — the same "classes" dump the interactive interpreter
// prints before a run, grounded on oriys-nova/cmd/nova/main.go's
// status-subcommand style (load, inspect, print; no mutation).
func classesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "Load the policy and print its starting class store",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx := cmd.Context()

			if err := ensureWorkspace(workdir); err != nil {
				return err
			}
			policy, err := resolvePolicy(ctx, policyFile, workdir)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ec, err := newEvalContext(ctx, policy, cfg)
			if err != nil {
				return err
			}

			printClassList("hard", ec.Classes.Iter("hard"))
			printClassList("soft", ec.Classes.Iter("global"))
			printClassList("negated", ec.Classes.Negated())
			return nil
		},
	}
	return cmd
}

func printClassList(partition string, names []string) {
	fmt.Printf("%s:\n", partition)
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("  %s\n", n)
	}
}

// locksCmd lists or purges C7's persistent lock/last-attempt records,
// grounded on internal/lock.Manager.Purge's 4-week retention sweep
// (spec.md §4.7). Listing opens the locks store directly since
// Manager itself has no read-only iteration surface.
func locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List or purge persisted lock records",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			handle, err := store.Open(ctx, kv.DBLocks)
			if err != nil {
				return fmt.Errorf("open locks store: %w", err)
			}
			defer handle.Close()

			if purgeLocks {
				mgr := lock.NewManager(handle, buildCriticalSection(store), filepath.Join(workdir, "state", "locks"))
				n, err := mgr.Purge(ctx)
				if err != nil {
					return fmt.Errorf("purge locks: %w", err)
				}
				fmt.Printf("purged %d expired lock record(s)\n", n)
				return nil
			}

			cur, err := handle.Scan(ctx)
			if err != nil {
				return fmt.Errorf("scan locks store: %w", err)
			}
			defer cur.Close()
			for {
				entry, ok, err := cur.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Printf("%s (%d bytes)\n", entry.Key, len(entry.Value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purgeLocks, "purge", false, "purge lock records older than the retention horizon")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("cfagent dev")
			return nil
		},
	}
}

// exitError carries a process exit code alongside an error so main can
// distinguish usage errors (1) from fatal policy errors (>1) per
// spec.md §6.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
