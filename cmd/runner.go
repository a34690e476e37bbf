package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/evpn/internal/proxy"
	"github.com/desertthunder/evpn/internal/repositories"
	"github.com/desertthunder/evpn/internal/services"
	"github.com/desertthunder/evpn/internal/session"
	"github.com/desertthunder/evpn/internal/shared"
	"github.com/desertthunder/evpn/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, proxy controller and orchestrator are built on first use so that
// commands such as `setup config` never touch them.
type Runner struct {
	config     *shared.Config
	configPath string
	backend    services.Backend
	facility   proxy.Facility
	prober     proxy.Prober
	checker    tasks.Checker
	indicator  session.Indicator
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db    *sql.DB
	store *repositories.Store
	orch  *session.Orchestrator
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Backend    services.Backend
	Facility   proxy.Facility
	Prober     proxy.Prober
	// Checker probes locations for `locations check`; it defaults to the prober when that reports addresses.
	Checker    tasks.Checker
	Indicator  session.Indicator
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	// DB is used as-is when set; otherwise the configured database is opened and migrated.
	DB *sql.DB
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		backend:    opts.Backend,
		facility:   opts.Facility,
		prober:     opts.Prober,
		checker:    opts.Checker,
		indicator:  opts.Indicator,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
	}
}

// SetLogger replaces the logger, e.g. when the TUI takes over the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// SetConfig replaces the configuration. It must be called before the session is built.
func (r *Runner) SetConfig(path string, c *shared.Config) {
	r.configPath = path
	r.config = c
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, loginCommand, logoutCommand, statusCommand, connectCommand, disconnectCommand,
		toggleCommand, locationsCommand, entitlementCommand, retryCommand, historyCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// openStore opens the database on first use.
func (r *Runner) openStore(ctx context.Context) (*repositories.Store, error) {
	if r.store != nil {
		return r.store, nil
	}
	if r.db == nil {
		r.logger.Debug("opening database", "path", r.config.Database.Path)
		db, err := shared.OpenDatabase(ctx, r.config.Database)
		if err != nil {
			return nil, err
		}
		r.db = db
	}
	r.store = repositories.NewStore(r.db)
	return r.store, nil
}

// orchestrator builds the session orchestrator over the durable stores and hydrates it.
func (r *Runner) orchestrator(ctx context.Context) (*session.Orchestrator, error) {
	if r.orch != nil {
		return r.orch, nil
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if r.backend == nil {
		r.backend = services.NewBackendServiceFromConfig(r.config, r.httpClient)
	}
	if r.facility == nil {
		if r.facility, err = proxy.NewFacility(r.config.Proxy, r.logger); err != nil {
			return nil, err
		}
	}
	if r.prober == nil {
		prober, err := proxy.NewHTTPProberFromConfig(r.config.Proxy)
		if err != nil {
			return nil, err
		}
		r.prober = prober
	}

	controller := proxy.NewController(proxy.ControllerOpts{
		Facility: r.facility,
		Prober:   r.prober,
		Logger:   r.logger,
		Timeout:  r.config.Proxy.ApplyTimeout(),
	})

	orch, err := session.New(session.Options{
		State:      store.State,
		Directory:  store.Directory,
		Proxy:      controller,
		Backend:    r.backend,
		Events:     store.Events,
		Indicator:  r.indicator,
		Scheme:     r.config.Proxy.Scheme,
		Port:       r.config.Proxy.Port,
		BypassList: r.config.Proxy.BypassList,
		Timeout:    r.config.Backend.Timeout(),
		Logger:     r.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := orch.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	r.orch = orch
	return orch, nil
}

// sweepEngine builds the location sweep over the backend and a reporting prober.
func (r *Runner) sweepEngine(ctx context.Context) (*tasks.SweepEngine, error) {
	if _, err := r.orchestrator(ctx); err != nil {
		return nil, err
	}
	if r.checker == nil {
		if c, ok := r.prober.(tasks.Checker); ok {
			r.checker = c
		} else {
			prober, err := proxy.NewHTTPProberFromConfig(r.config.Proxy)
			if err != nil {
				return nil, err
			}
			r.checker = prober
		}
	}
	return tasks.NewSweepEngine(r.backend, r.checker), nil
}

// Close releases the database handle.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db, r.store, r.orch = nil, nil, nil
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
