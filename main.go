// blurdog renders and computes BlurHash placeholders for Log a Dog images, either
// one at a time from the command line or as an HTTP service.
package main

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/svanichkin/blurdog/blurhash"
	"github.com/svanichkin/blurdog/cache"
	"github.com/svanichkin/blurdog/imaging"
	"github.com/svanichkin/blurdog/logging"
	"github.com/svanichkin/blurdog/server"
)

const usage = `Usage:
  blurdog decode <hash> [-o out.png] [-W 32] [-H 32] [--punch 1]
  blurdog dataurl <hash> [-W 32] [-H 32]
  blurdog encode <image> [-x 4] [-y 3]
  blurdog validate <hash>...
  blurdog serve [--config blurdog.yaml]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "decode":
		err = runDecode(args, os.Stdout)
	case "dataurl":
		err = runDataURL(args, os.Stdout)
	case "encode":
		err = runEncode(args, os.Stdout)
	case "validate":
		err = runValidate(args, os.Stdout)
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = runServe(ctx, args)
		stop()
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s", cmd, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, cmd+" error:", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// hashArg parses flags and returns the single validated hash argument.
func hashArg(fs *pflag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one hash, got %d arguments", fs.NArg())
	}
	hash := fs.Arg(0)
	if err := blurhash.Validate(hash); err != nil {
		return "", err
	}
	return hash, nil
}

func runDecode(args []string, stdout io.Writer) error {
	fs := newFlagSet("decode")
	out := fs.StringP("output", "o", "placeholder.png", "output PNG path")
	width := fs.IntP("width", "W", blurhash.DefaultSize, "output width in pixels")
	height := fs.IntP("height", "H", blurhash.DefaultSize, "output height in pixels")
	punch := fs.Float64("punch", 1, "contrast of the AC components")
	hash, err := hashArg(fs, args)
	if err != nil {
		return err
	}
	if *width <= 0 || *height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", *width, *height)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, blurhash.DecodeImage(hash, *width, *height, *punch)); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Decoded %s → %s (%dx%d)\n", hash, *out, *width, *height)
	return nil
}

func runDataURL(args []string, stdout io.Writer) error {
	fs := newFlagSet("dataurl")
	width := fs.IntP("width", "W", blurhash.DefaultSize, "width in pixels")
	height := fs.IntP("height", "H", blurhash.DefaultSize, "height in pixels")
	hash, err := hashArg(fs, args)
	if err != nil {
		return err
	}

	url, err := blurhash.DataURL(hash, *width, *height)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, url)
	return nil
}

func runEncode(args []string, stdout io.Writer) error {
	fs := newFlagSet("encode")
	x := fs.IntP("x", "x", 4, "horizontal components (1-9)")
	y := fs.IntP("y", "y", 3, "vertical components (1-9)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path, got %d arguments", fs.NArg())
	}

	hash, err := encodeFile(fs.Arg(0), *x, *y)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func encodeFile(path string, x, y int) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	img, _, err := imaging.Decode(in, imaging.DefaultMaxPixels)
	if err != nil {
		return "", err
	}
	return blurhash.Encode(imaging.Downscale(img, imaging.EncodeMaxSide), x, y)
}

func runValidate(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("expected at least one hash")
	}

	ok := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	failed := 0
	for _, hash := range args {
		if err := blurhash.Validate(hash); err != nil {
			failed++
			fail.Fprint(stdout, "FAIL")
			fmt.Fprintf(stdout, " %s: %v\n", hash, err)
			continue
		}
		x, y, _ := blurhash.Components(hash)
		ok.Fprint(stdout, "OK  ")
		fmt.Fprintf(stdout, " %s (%dx%d components)\n", hash, x, y)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d hashes invalid", failed, len(args))
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LoggingConfig())
	defer logger.Sync()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	placeholders := cache.NewPlaceholders(store, cfg.CacheTTL, logger)
	return server.New(cfg.ServerOptions(), placeholders, logger).ListenAndServe(ctx)
}

// openStore connects to Redis when configured and falls back to an in-process LRU otherwise.
func openStore(ctx context.Context, cfg Config, logger *zap.Logger) (cache.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("using in-memory placeholder cache", zap.Int("size", cfg.CacheSize))
		return cache.NewMemoryStore(cfg.CacheSize, cfg.CacheTTL), func() {}, nil
	}

	store, err := cache.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis placeholder cache")
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}, nil
}
