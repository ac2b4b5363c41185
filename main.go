package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("fitframe"),
		kong.Description("Fit an image into a fixed frame and save it as JPEG."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Serve serveCmd `cmd:"" default:"withargs" help:"Open the interactive fit editor in the browser"`
	Batch batchCmd `cmd:"" help:"Fit many images without interaction"`
}

// WidgetFlags are shared by all commands. Zero values leave the config file or defaults in place.
type WidgetFlags struct {
	Config        string  `help:"YAML file with widget options" type:"path" env:"FITFRAME_CONFIG"`
	FrameWidth    int     `help:"Output width in pixels" env:"FITFRAME_FRAME_WIDTH"`
	FrameHeight   int     `help:"Output height in pixels" env:"FITFRAME_FRAME_HEIGHT"`
	Aspect        float64 `help:"Aspect ratio kept while resizing" env:"FITFRAME_ASPECT"`
	Quality       int     `help:"JPEG quality (1-100)" env:"FITFRAME_QUALITY"`
	Background    string  `help:"Background color as #rrggbb" env:"FITFRAME_BACKGROUND"`
	Rasterizer    string  `help:"Raster backend: imaging, draw or gg" env:"FITFRAME_RASTERIZER"`
	MaxFileSizeMB float64 `name:"max-file-size-mb" help:"Reject files larger than this" env:"FITFRAME_MAX_FILE_SIZE_MB"`
	Verbose       bool    `help:"Enable verbose logging" default:"false"`
}

func (f WidgetFlags) options() (Options, error) {
	opts := DefaultOptions()
	if f.Config != "" {
		var err error
		if opts, err = LoadOptions(f.Config); err != nil {
			return opts, err
		}
	}
	if f.FrameWidth != 0 {
		opts.FrameWidth = f.FrameWidth
	}
	if f.FrameHeight != 0 {
		opts.FrameHeight = f.FrameHeight
	}
	if f.Aspect != 0 {
		opts.Aspect = f.Aspect
	}
	if f.Quality != 0 {
		opts.Quality = f.Quality
	}
	if f.Background != "" {
		opts.Background = f.Background
	}
	if f.Rasterizer != "" {
		opts.Rasterizer = f.Rasterizer
	}
	if f.MaxFileSizeMB != 0 {
		opts.MaxFileSizeMB = f.MaxFileSizeMB
	}
	return opts, opts.Validate()
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

type serveCmd struct {
	WidgetFlags `embed:""`
	OutputDir string `arg:"" optional:"" help:"Directory that saved images are written to" default:"output" type:"path"`
	Addr      string `help:"Address to listen on" default:"localhost:0"`
	Open      bool   `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	Once      bool   `help:"Exit after the first successful save" default:"false"`
}

func (cmd *serveCmd) Run() error {
	setupLogging(cmd.Verbose)

	opts, err := cmd.options()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	store := DirectoryUploader{Dir: cmd.OutputDir}
	notifications := NewNotificationLog(50)
	widget, err := NewWidget(WidgetConfig{
		Options: opts,
		OnImageSelected: func(ctx context.Context, file EncodedImageFile) error {
			if err := store.Upload(ctx, file); err != nil {
				return err
			}
			if cmd.Once {
				cancel()
			}
			return nil
		},
		Notifier:     multiNotifier{LogNotifier{}, notifications},
		GestureScope: logScope{logger: log.Logger},
	})
	if err != nil {
		return err
	}

	app := NewWebApp(Config{
		Widget:        widget,
		Notifications: notifications,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Stringer("frame", widget.Frame()).Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	})

	return app.Run(ctx, cmd.Addr)
}

type batchCmd struct {
	WidgetFlags `embed:""`
	RootDir   string `arg:"" help:"Directory containing the source images" type:"existingdir"`
	OutputDir string `help:"Directory that fitted images are written to (default: <root>/output)" type:"path"`
	Ops       string `help:"JSON lines file with fit/place operations, '-' for stdin. Without it every image in the root is fitted."`
	JSON      bool   `help:"Print the operations as JSON lines without executing"`
}

func (cmd *batchCmd) Run() error {
	setupLogging(cmd.Verbose)

	opts, err := cmd.options()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	outputDir := cmd.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(cmd.RootDir, "output")
	}

	var ops Operations
	if cmd.Ops != "" {
		ops, err = readOperations(cmd.Ops)
	} else {
		ops, err = fitOperations(ctx, cmd.RootDir, outputDir)
	}
	if err != nil {
		return err
	}

	if cmd.JSON {
		printJSONL(ops)
		return nil
	}

	r, err := NewRasterizer(opts.Rasterizer, opts.BackgroundColor(), opts.Quality)
	if err != nil {
		return err
	}
	executor := BatchExecutor{
		BaseDir:    cmd.RootDir,
		Loader:     NewLoader(opts),
		Compositor: NewCompositor(opts.Frame(), r),
		Upload:     DirectoryUploader{Dir: outputDir}.Upload,
	}
	return executor.Exec(ctx, ops)
}

func readOperations(p string) (Operations, error) {
	var r io.Reader = os.Stdin
	if p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open operations file %s: %w", p, err)
		}
		defer f.Close()
		r = f
	}
	return decodeOperations(r)
}

func decodeOperations(r io.Reader) (Operations, error) {
	var ops Operations
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var op Operation
		if err := json.Unmarshal(scanner.Bytes(), &op); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
