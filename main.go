package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/constant"
	"github.com/xeptore/xmfetch/log"
	"github.com/xeptore/xmfetch/ximalaya"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

const (
	exitCodeBlocked = 3
	exitCodeEmpty   = 4
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "xmfetch",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Ximalaya track URL resolver",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "track",
				Usage: "Track commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:  "resolve",
						Usage: "Resolve a single track's playback URL",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "album", Usage: "Album id", Required: true},
							&cli.Int64Flag{Name: "track", Usage: "Track id", Required: true},
							&cli.BoolFlag{Name: "no-cache", Usage: "Skip the cache lookup"},
						},
						Action: trackResolve,
					},
				},
			},
			{
				Name:  "album",
				Usage: "Album commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:  "page",
						Usage: "Fetch one listing page",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "album", Usage: "Album id", Required: true},
							&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
							&cli.IntFlag{Name: "page-size", Usage: "Page size", Value: 30},
							&cli.StringFlag{Name: "mode", Usage: "fast or full", Value: "fast"},
						},
						Action: albumPage,
					},
					{
						Name:  "resolve",
						Usage: "List every page of an album and resolve all track URLs concurrently",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "album", Usage: "Album id", Required: true},
							&cli.IntFlag{Name: "page-size", Usage: "Page size", Value: 30},
							&cli.IntFlag{Name: "concurrency", Usage: "Worker count, overrides the config file"},
						},
						Action: albumResolve,
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Cache maintenance commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:   "stats",
						Usage:  "Show cache statistics",
						Action: cacheStats,
					},
					{
						Name:   "tracks",
						Usage:  "List valid cached tracks of an album",
						Flags:  []cli.Flag{&cli.Int64Flag{Name: "album", Usage: "Album id", Required: true}},
						Action: cacheTracks,
					},
					{
						Name:   "cleanup",
						Usage:  "Delete expired tracks and pages",
						Action: cacheCleanup,
					},
					{
						Name:   "clear",
						Usage:  "Delete every cached track",
						Action: cacheClear,
					},
					{
						Name:   "import",
						Usage:  "Import a legacy JSON URL cache file",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "file", Usage: "Legacy cache file path", Required: true}},
						Action: cacheImport,
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func loadConfig(cmd *cli.Command) (zerolog.Logger, *config.Config, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return logger, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return logger, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	if len(conf.API.Cookie) == 0 {
		logger.Warn().Str("env", config.CookieEnvName).Msg("No session cookie set, only free content will resolve")
	}

	return logger, conf, nil
}

func newClient(cmd *cli.Command, mutate func(*config.Config)) (zerolog.Logger, *ximalaya.Client, error) {
	logger, conf, err := loadConfig(cmd)
	if nil != err {
		return logger, nil, err
	}

	if nil != mutate {
		mutate(conf)
	}

	c, err := ximalaya.NewClient(logger, conf)
	if nil != err {
		return logger, nil, fmt.Errorf("create ximalaya client: %v", err)
	}
	logger.Debug().Str("store", conf.Store.Path).Msg("Ximalaya client created")

	return logger, c, nil
}

func closeClient(logger zerolog.Logger, c *ximalaya.Client) {
	if err := c.Close(); nil != err {
		logger.Error().Err(err).Msg("Failed to close ximalaya client")
	}
}

func blockedExit(logger zerolog.Logger, err error) error {
	if errors.Is(err, ximalaya.ErrBlocked) {
		logger.Error().Err(err).Msg("Blocked by risk control. Wait a while or refresh the session cookie before retrying.")
		return exitCodeError(exitCodeBlocked)
	}

	return err
}

func trackResolve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	var (
		albumID = cmd.Int64("album")
		trackID = cmd.Int64("track")
	)
	encrypted, decrypted, err := c.ResolveTrack(ctx, trackID, albumID, !cmd.Bool("no-cache"))
	if nil != err {
		return blockedExit(logger, fmt.Errorf("resolve track: %w", err))
	}

	if len(encrypted) == 0 {
		logger.Warn().Int64("track_id", trackID).Msg("Track has no playable URL")
		return exitCodeError(exitCodeEmpty)
	}

	printTrackURL(os.Stdout, trackID, albumID, decrypted)

	return nil
}

func albumPage(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode, err := types.ParseMode(cmd.String("mode"))
	if nil != err {
		return err
	}

	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	tracks, err := c.FetchPage(ctx, cmd.Int64("album"), cmd.Int("page"), cmd.Int("page-size"), mode)
	if nil != err {
		return blockedExit(logger, fmt.Errorf("fetch page: %w", err))
	}

	printTracks(os.Stdout, tracks)

	return nil
}

func albumResolve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, c, err := newClient(cmd, func(conf *config.Config) {
		if n := cmd.Int("concurrency"); n > 0 {
			conf.Engine.Concurrency = n
		}
	})
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	tracks, summary, err := c.ResolveAlbum(ctx, cmd.Int64("album"), cmd.Int("page-size"), newProgressPrinter(os.Stderr))
	if nil != err {
		return blockedExit(logger, fmt.Errorf("resolve album: %w", err))
	}

	printTracks(os.Stdout, tracks)
	logger.Info().Dict("summary", summary.ToDict()).Msg("Album resolved")

	return nil
}

func cacheStats(_ context.Context, cmd *cli.Command) error {
	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	stats, err := c.Stats()
	if nil != err {
		return fmt.Errorf("collect cache stats: %w", err)
	}

	printStats(os.Stdout, stats)

	return nil
}

func cacheTracks(_ context.Context, cmd *cli.Command) error {
	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	printCachedTracks(os.Stdout, c.AlbumTracks(cmd.Int64("album")))

	return nil
}

func cacheCleanup(_ context.Context, cmd *cli.Command) error {
	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	tracks, pages, err := c.Cleanup()
	if nil != err {
		return fmt.Errorf("clean up cache: %w", err)
	}
	logger.Info().Int("tracks", tracks).Int("pages", pages).Msg("Expired cache entries deleted")

	return nil
}

func cacheClear(_ context.Context, cmd *cli.Command) error {
	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	if err := c.ClearTracks(); nil != err {
		return fmt.Errorf("clear cache: %w", err)
	}
	logger.Info().Msg("Track cache cleared")

	return nil
}

func cacheImport(ctx context.Context, cmd *cli.Command) (err error) {
	logger, c, err := newClient(cmd, nil)
	if nil != err {
		return err
	}
	defer closeClient(logger, c)

	f, err := os.Open(cmd.String("file"))
	if nil != err {
		return fmt.Errorf("open legacy cache file: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close legacy cache file: %v", closeErr))
		}
	}()

	n, err := c.ImportLegacyJSON(ctx, f)
	if nil != err {
		return fmt.Errorf("import legacy cache file: %w", err)
	}
	logger.Info().Int("imported", n).Msg("Legacy cache imported")

	return nil
}
