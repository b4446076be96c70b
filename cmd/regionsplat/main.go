package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"regionsplat/pkg/config"
	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/pipeline"
)

// nativeFS resolves relative and absolute paths the way the OS does.
type nativeFS struct {
	osfs.ChrootOS
}

func (n *nativeFS) Chroot(path string) (billy.Filesystem, error) { return osfs.New(path), nil }

func (n *nativeFS) Root() string { return "/" }

type command struct {
	summary string
	run     func(fs billy.Filesystem, args []string, stderr io.Writer) error
}

var commands = map[string]command{
	"masked": {"splat features through a region mask into one archive", runMasked},
	"split":  {"decompose masks into per-layer images, one archive per mask", runSplit},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	if err := cmd.run(&nativeFS{}, os.Args[2:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "regionsplat %s: %v\n", os.Args[1], err)
		if k := errs.KindOf(err); k != errs.KindUnknown {
			fmt.Fprintf(os.Stderr, "(%s error)\n", k)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: regionsplat <command> [flags] ...")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}

// common holds the flags both commands share. Flags given on the command
// line override the configuration file.
type common struct {
	configPath  string
	format      string
	elementType string
	compression string
	workers     int
	logLevel    string
}

func (c *common) register(set *flag.FlagSet) {
	set.StringVar(&c.configPath, "config", "config.yaml", "Configuration file (defaults apply when it is missing)")
	set.StringVar(&c.format, "format", "", "Output codec: png, jpeg, gif, bmp or tiff (required unless the config sets it)")
	set.StringVar(&c.elementType, "element-dtype", "", "Output element type, inferred from the inputs when empty")
	set.StringVar(&c.compression, "compression", "", "TIFF compression: none, deflate or zstd")
	set.IntVar(&c.workers, "p", 1, "Number of parallel workers, 0 for one per CPU")
	set.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

func (c *common) load(fs billy.Filesystem, set *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadConfig(fs, c.configPath)
	if err != nil {
		return nil, err
	}
	set.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "format":
			cfg.Output.Format = c.format
		case "element-dtype":
			cfg.Output.ElementType = c.elementType
		case "compression":
			cfg.Output.Compression = c.compression
		case "p":
			cfg.Processing.Workers = c.workers
		case "log-level":
			cfg.Logging.Level = c.logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// params builds the pipeline parameters from a validated configuration.
func params(fs billy.Filesystem, cfg *config.Config, logger *slog.Logger) pipeline.Params {
	format, _ := cfg.Codec()
	element, _ := cfg.ElementType()
	compute, _ := cfg.Compute()
	compression, _ := cfg.Compression()
	p := pipeline.Params{
		FS:          fs,
		Format:      format,
		FormatName:  cfg.Output.Format,
		ElementType: element,
		Compute:     compute,
		Workers:     cfg.Processing.Workers,
		Logger:      logger,
		Now:         time.Now,
	}
	p.Codec.Compression = compression
	return p
}

type paths []string

func (p *paths) String() string { return strings.Join(*p, ",") }

func (p *paths) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func runMasked(fs billy.Filesystem, args []string, stderr io.Writer) error {
	set := flag.NewFlagSet("masked", flag.ContinueOnError)
	set.SetOutput(stderr)
	var (
		c        common
		features paths
		rescale  bool
	)
	c.register(set)
	set.Var(&features, "F", "Feature image, repeat in depth order")
	set.BoolVar(&rescale, "rescale", false, "Stretch the result over the full output range")
	set.Usage = func() {
		fmt.Fprintln(stderr, "usage: regionsplat masked -F FEATURE [-F FEATURE...] [flags] MASK OUTPUT")
		set.PrintDefaults()
	}
	if err := set.Parse(args); err != nil {
		return err
	}
	if set.NArg() != 2 || len(features) == 0 {
		set.Usage()
		return fmt.Errorf("need at least one -F feature, a mask and an output path")
	}

	cfg, err := c.load(fs, set)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, stderr)
	job := &pipeline.Masked{
		Params:   params(fs, cfg, logger),
		Features: features,
		Mask:     set.Arg(0),
		Output:   set.Arg(1),
		Rescale:  rescale || cfg.Output.Rescale,
	}

	start := time.Now()
	if err := job.Process(); err != nil {
		return err
	}
	logger.Info("masked: done", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func runSplit(fs billy.Filesystem, args []string, stderr io.Writer) error {
	set := flag.NewFlagSet("split", flag.ContinueOnError)
	set.SetOutput(stderr)
	var (
		c      common
		outDir string
	)
	c.register(set)
	set.StringVar(&outDir, "o", "", "Directory receiving one archive per mask")
	set.Usage = func() {
		fmt.Fprintln(stderr, "usage: regionsplat split [flags] MASK [MASK...]")
		set.PrintDefaults()
	}
	if err := set.Parse(args); err != nil {
		return err
	}
	if set.NArg() == 0 {
		set.Usage()
		return fmt.Errorf("need at least one mask")
	}

	cfg, err := c.load(fs, set)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, stderr)
	p := params(fs, cfg, logger)
	if p.ElementType == dtype.Invalid {
		logger.Debug("split: keeping native mask element types")
	}
	job := &pipeline.Split{
		Params:    p,
		Masks:     set.Args(),
		OutputDir: outDir,
	}

	start := time.Now()
	if err := job.Process(); err != nil {
		return err
	}
	logger.Info("split: done", "masks", len(job.Masks), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
