package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/pagegrab/config"
	"github.com/wudi/pagegrab/grab"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/progress"
	"github.com/wudi/pagegrab/report"
	"github.com/wudi/pagegrab/source"
	"github.com/wudi/pagegrab/toolexec"
)

type options struct {
	configPath  string
	savePath    string
	saveDefault bool
	listSources bool
	guessRange  bool
	openDir     bool
	openURL     bool
	clean       bool
	assumeYes   bool
	writeReport bool

	// overrides holds only the flags given on the command line.
	overrides func(*config.Config)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagegrab: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pagegrab: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pagegrab", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pagegrab [flags]\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "Job file (.grab) to load over the defaults")
	fs.StringVar(&opts.savePath, "save", "", "Save the effective settings to this .grab file")
	fs.BoolVar(&opts.saveDefault, "save-default", false, "Save the effective settings as the default file")
	fs.BoolVar(&opts.listSources, "list-sources", false, "List the known repositories and exit")
	fs.BoolVar(&opts.guessRange, "guess-range", false, "Take the page range from images already in the book directory")
	fs.BoolVar(&opts.openDir, "open", false, "Open the top directory in the file manager and exit")
	fs.BoolVar(&opts.openURL, "open-url", false, "Print the document's page in the repository, open it in a browser and exit")
	fs.BoolVar(&opts.clean, "clean", false, "Delete the book directory and everything in it, then exit")
	fs.BoolVar(&opts.assumeYes, "yes", false, "Do not ask for confirmation with -clean")
	fs.BoolVar(&opts.writeReport, "report", false, "Write an HTML report into the book directory")
	src := fs.String("source", "", "Repository key, e.g. HATHI or BFELD")
	id := fs.String("id", "", "Document identifier within the repository")
	start := fs.Int("start", 0, "First page")
	end := fs.Int("end", 0, "Last page")
	dir := fs.String("dir", "", "Top directory holding book directories")
	status := fs.String("status-addr", "", "Serve job status over HTTP on this address")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	opts.overrides = func(c *config.Config) {
		if set["source"] {
			c.Source = strings.ToUpper(*src)
		}
		if set["id"] {
			c.TextID = *id
		}
		if set["start"] {
			c.PgStart = *start
		}
		if set["end"] {
			c.PgEnd = *end
		}
		if set["dir"] {
			c.TopDirectory = *dir
			c.CustomBookDir = false
		}
		if set["status-addr"] {
			c.StatusAddr = *status
		}
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if path, err := config.DefaultPath(); err == nil {
		if err := cfg.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if opts.configPath != "" {
		if err := cfg.LoadFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	opts.overrides(cfg)
	return cfg, nil
}

func run(opts options) error {
	// a missing .env is normal
	_ = godotenv.Load()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := observability.NewSlogLogger(os.Stderr, cfg.LogLevel)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	if opts.listSources {
		for _, d := range registry.Definitions() {
			fmt.Printf("%-10s %s\n", d.Key, d.Description)
		}
		return nil
	}
	if opts.openDir {
		return toolexec.OpenDirectory(context.Background(), cfg.TopDirectory)
	}
	if opts.openURL {
		return openBookURL(cfg, registry, os.Stdout, toolexec.OpenURL, log)
	}
	if opts.clean {
		if strings.TrimSpace(cfg.TextID) == "" && !cfg.CustomBookDir {
			return errors.New("-clean needs -id or a custom book directory")
		}
		_, err := cleanBookDir(cfg.BookDirectory(), os.Stdin, os.Stdout, opts.assumeYes)
		return err
	}
	if opts.guessRange {
		first, last, ok := grab.GuessPageRange(cfg.BookDirectory())
		if !ok {
			return fmt.Errorf("no page images found in %s", cfg.BookDirectory())
		}
		log.Info("guessed page range", observability.Int("first", first), observability.Int("last", last))
		cfg.PgStart, cfg.PgEnd = first, last
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.saveDefault {
		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		log.Info("saved default settings", observability.String("file", path))
	}
	if opts.savePath != "" {
		if err := cfg.Save(opts.savePath); err != nil {
			return err
		}
		log.Info("saved settings", observability.String("file", opts.savePath))
	}
	if missing := toolexec.Missing(requiredTools(cfg)...); len(missing) > 0 {
		return fmt.Errorf("required programs not found on PATH: %s", strings.Join(missing, ", "))
	}

	ctx := context.Background()
	kill, killTools := context.WithCancel(ctx)
	defer killTools()
	job, err := buildJob(ctx, cfg, registry, log, kill)
	if err != nil {
		return err
	}
	defer job.Close()

	notifier := grab.NewNotifier()
	orch, err := grab.New(job.env, job.opts, notifier, grab.WithTracer(observability.LogTracer(log)))
	if err != nil {
		return err
	}

	tracker := progress.NewTracker()
	observers := progress.Fanout{tracker, progress.Console{Logger: log}}
	if job.mirror != nil {
		observers = append(observers, job.mirror)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	svcCtx, stopServices := context.WithCancel(ctx)
	defer stopServices()
	g, gctx := errgroup.WithContext(svcCtx)
	g.Go(func() error {
		notifier.Deliver(observers)
		return nil
	})
	if cfg.StatusAddr != "" {
		srv := &progress.Server{
			Tracker:        tracker,
			Abort:          orch.Abort,
			Token:          cfg.StatusToken,
			Logger:         log,
			AllowedOrigins: cfg.StatusOrigins,
		}
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.StatusAddr) })
	}
	g.Go(func() error {
		watchSignals(gctx, sigc, orch.Abort, killTools, log)
		return nil
	})

	sum, runErr := orch.Run(ctx)
	notifier.Close()
	stopServices()
	if err := g.Wait(); err != nil {
		log.Error("status service failed", observability.Error("error", err))
	}

	if opts.writeReport {
		meta := report.Meta{Title: cfg.Prefix(), Source: cfg.Source, ID: cfg.TextID}
		meta.BookURL, _ = job.env.Source.BookURL()
		path, err := report.WriteFile(job.env.Dir, cfg.Prefix(), meta, sum, tracker.Pages())
		if err != nil {
			log.Error("report not written", observability.Error("error", err))
		} else {
			log.Info("wrote report", observability.String("file", path))
		}
	}
	if runErr != nil {
		return runErr
	}
	if sum.Container != "" && sum.Appended > 0 {
		fmt.Println(filepath.Clean(sum.Container))
	}
	return nil
}

// watchSignals aborts the job on the first signal and kills running tools
// on the second.
func watchSignals(ctx context.Context, sigc <-chan os.Signal, abort, kill func(), log observability.Logger) {
	select {
	case <-sigc:
		log.Warn("interrupt received, aborting after the current step; interrupt again to kill running tools")
		abort()
	case <-ctx.Done():
		return
	}
	select {
	case <-sigc:
		log.Warn("second interrupt, killing running tools")
		kill()
	case <-ctx.Done():
	}
}

// openBookURL prints the document's landing page and hands it to open.
func openBookURL(cfg *config.Config, reg *source.Registry, out io.Writer, open func(context.Context, string) error, log observability.Logger) error {
	def, ok := reg.Lookup(cfg.Source)
	if !ok {
		return fmt.Errorf("unknown source %q", cfg.Source)
	}
	if strings.TrimSpace(cfg.TextID) == "" {
		return errors.New("-open-url needs a document id")
	}
	u, err := def.BookURL(cfg.TextID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, u)
	if err := open(context.Background(), u); err != nil {
		log.Warn("could not open a browser", observability.Error("error", err))
	}
	return nil
}

// cleanBookDir removes dir after the user confirms on in, unless yes is
// set. It reports whether anything was deleted.
func cleanBookDir(dir string, in io.Reader, out io.Writer, yes bool) (bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	home, _ := os.UserHomeDir()
	if abs == filepath.Dir(abs) || (home != "" && abs == filepath.Clean(home)) {
		return false, fmt.Errorf("refusing to delete %s", abs)
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(out, "%s does not exist\n", abs)
			return false, nil
		}
		return false, err
	}
	if !yes {
		fmt.Fprintf(out, "Delete %s and everything in it? [y/N] ", abs)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			fmt.Fprintln(out, "Nothing deleted.")
			return false, nil
		}
	}
	if err := os.RemoveAll(abs); err != nil {
		return false, err
	}
	fmt.Fprintf(out, "Deleted %s\n", abs)
	return true, nil
}

func buildRegistry(cfg *config.Config) (*source.Registry, error) {
	reg := source.Builtin()
	if len(cfg.ScriptSources) == 0 {
		return reg, nil
	}
	defs := make([]source.Definition, 0, len(cfg.ScriptSources))
	for _, path := range cfg.ScriptSources {
		def, err := source.LoadScript(path)
		if err != nil {
			return nil, fmt.Errorf("load source script %s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return reg.With(defs...)
}

// requiredTools lists the programs the job can call. convert is the
// fallback for images Go cannot decode, reached when assembling or
// recognizing locally.
func requiredTools(cfg *config.Config) []string {
	var tools []string
	if cfg.ConvertDjVu && cfg.ContainerFormat == config.FormatDjVu {
		tools = append(tools, "c44", "cjb2", "djvm", "djvused")
	}
	localOCR := cfg.PerformOCR && (cfg.FallbackTesseract || cfg.ForceTesseract)
	if cfg.ConvertDjVu || localOCR {
		tools = append(tools, "convert")
	}
	if localOCR && (cfg.OCREngine == "command" || cfg.OCREngine == "tesseract") {
		tools = append(tools, "tesseract")
	}
	return tools
}
