package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/async"
	"github.com/alanbriolat/media-fetch/catalog"
	"github.com/alanbriolat/media-fetch/extract"
	"github.com/alanbriolat/media-fetch/internal/session"
	"github.com/alanbriolat/media-fetch/pending"
	"github.com/alanbriolat/media-fetch/provider/youtube"
	"github.com/alanbriolat/media-fetch/provider/ytdlp"
	_ "github.com/alanbriolat/media-fetch/providers"
	"github.com/alanbriolat/media-fetch/sink"
	"github.com/alanbriolat/media-fetch/sizeguard"
	"github.com/alanbriolat/media-fetch/transcode"
	"github.com/alanbriolat/media-fetch/transfer"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = mediafetch.WithLogger(ctx, logger)

	targetFlag := &cli.StringFlag{
		Name:  "target",
		Value: ".",
		Usage: "save fetched files to `DIR`",
	}
	app := &cli.App{
		Name:  "media-fetch",
		Usage: "resolve and fetch media within a size limit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "media-fetch.yaml",
				Usage: "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "state",
				Value: "media-fetch.db",
				Usage: "keep pending selections in `FILE`",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				config.Level.SetLevel(zap.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "resolve",
				Usage:     "list the renditions of a URL, each with a token to fetch it by",
				ArgsUsage: "URL",
				Action: func(c *cli.Context) error {
					url, err := singleArg(c)
					if err != nil {
						return err
					}
					return withSession(ctx, c, ".", func(s *session.Session) error {
						offer, err := s.Resolve(ctx, url)
						if err != nil {
							return err
						}
						printOffer(offer)
						return nil
					})
				},
			},
			{
				Name:      "fetch",
				Usage:     "fetch a rendition previously listed by resolve",
				ArgsUsage: "TOKEN",
				Flags:     []cli.Flag{targetFlag},
				Action: func(c *cli.Context) error {
					token, err := singleArg(c)
					if err != nil {
						return err
					}
					return withSession(ctx, c, c.String("target"), func(s *session.Session) error {
						return execute(ctx, s, token)
					})
				},
			},
			{
				Name:      "cancel",
				Usage:     "discard a rendition previously listed by resolve",
				ArgsUsage: "TOKEN",
				Action: func(c *cli.Context) error {
					token, err := singleArg(c)
					if err != nil {
						return err
					}
					return withSession(ctx, c, ".", func(s *session.Session) error {
						return s.Cancel(token)
					})
				},
			},
			{
				Name:      "get",
				Usage:     "resolve a URL and fetch one rendition of it",
				ArgsUsage: "URL",
				Flags: []cli.Flag{
					targetFlag,
					&cli.StringFlag{
						Name:  "label",
						Usage: "fetch the video rendition labelled `LABEL` (default: best)",
					},
					&cli.BoolFlag{
						Name:  "audio",
						Usage: "fetch the audio track as mp3",
					},
				},
				Action: func(c *cli.Context) error {
					url, err := singleArg(c)
					if err != nil {
						return err
					}
					return withSession(ctx, c, c.String("target"), func(s *session.Session) error {
						offer, err := s.Resolve(ctx, url)
						if err != nil {
							return err
						}
						defer s.Discard(offer)
						choice, err := pick(offer, c.String("label"), c.Bool("audio"))
						if err != nil {
							printOffer(offer)
							return err
						}
						return execute(ctx, s, choice.Token)
					})
				},
			},
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		err = <-result
	}
	if err != nil {
		logger.Fatal(err.Error())
	}
}

func singleArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("expected exactly one argument, got %d", c.NArg()), 2)
	}
	return c.Args().First(), nil
}

// withSession builds a session from the global flags, runs f with it, and closes it again.
func withSession(ctx context.Context, c *cli.Context, target string, f func(*session.Session) error) error {
	cfg, err := mediafetch.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	filenames, err := cfg.Filenames()
	if err != nil {
		return err
	}

	chain := extract.NewChain(
		youtube.NewBackend(mediafetch.NewHTTPClient(cfg.Headers)),
		ytdlp.NewBackend(cfg.YtDlpPath, cfg.Headers.Header()),
		catalog.NewBuilder(cfg.MaxRenditionsListed),
	).WithPrimaryProviders(youtube.ProviderName)

	transcoder, err := transcode.New(cfg.Transcoder, cfg.FFmpegPath, cfg.AudioBitrateKbps, cfg.TempDir)
	if err != nil {
		return err
	}
	directory, err := sink.NewDirectory(target)
	if err != nil {
		return err
	}
	store, err := pending.OpenBoltStore(c.String("state"))
	if err != nil {
		return err
	}
	registry := pending.New(store, pending.WithTTL(cfg.PendingTTL), pending.WithSweepInterval(cfg.SweepInterval))

	s, err := session.New(session.Config{
		Resolver: chain,
		Registry: registry,
		Pipeline: &transfer.Pipeline{
			Streams:      chain,
			Transcoder:   transcoder,
			Guard:        sizeguard.New(cfg.SizeCeilingBytes),
			Sink:         directory,
			Filenames:    filenames,
			TempDir:      cfg.TempDir,
			Timeout:      cfg.ExecutionTimeout,
			StallTimeout: cfg.StallTimeout,
		},
	}, ctx)
	if err != nil {
		_ = registry.Close()
		return err
	}
	defer s.Close()
	return f(s)
}

func pick(offer *session.Offer, label string, audio bool) (session.Choice, error) {
	if offer.IsEmpty() {
		return session.Choice{}, errors.New("no downloadable renditions")
	}
	if audio {
		if choice, ok := offer.Audio(); ok {
			return choice, nil
		}
		return session.Choice{}, errors.New("no audio rendition")
	}
	if label == "" {
		for _, choice := range offer.Choices {
			if !choice.IsAudio {
				return choice, nil
			}
		}
		return session.Choice{}, errors.New("no video rendition")
	}
	if choice, ok := offer.Video(label); ok {
		return choice, nil
	}
	return session.Choice{}, fmt.Errorf("no video rendition labelled %q", label)
}

func printOffer(offer *session.Offer) {
	fmt.Printf("%s (%s)\n", offer.Catalog.Title, offer.Served)
	if offer.IsEmpty() {
		fmt.Println("  no downloadable renditions")
		return
	}
	for _, choice := range offer.Choices {
		size := "unknown size"
		if n, ok := choice.Format.ContentLength.Get(); ok {
			size = mediafetch.FormatBytes(n)
		}
		kind := choice.Format.Container
		if choice.IsAudio {
			kind = "mp3"
		}
		fmt.Printf("  %-8s %-5s %-12s %s\n", choice.Label, kind, size, choice.Token)
	}
}

type status struct {
	Stage       mediafetch.Stage
	Transferred int64
}

// execute runs one selection, showing its progress.
func execute(ctx context.Context, s *session.Session, token string) error {
	logger := zap.S()
	events, err := s.SubscribeToken(token)
	if err != nil {
		return err
	}
	bar := progressbar.DefaultBytes(-1, "fetching")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var current status
		for event := range events.Receive() {
			next := current
			switch e := event.(type) {
			case session.TransferStageChanged:
				next.Stage = e.Stage
				bar.Describe(string(e.Stage))
			case session.TransferProgress:
				next.Transferred = e.Transferred
				if total, ok := e.Total.Get(); ok && bar.GetMax64() != total {
					bar.ChangeMax64(total)
				}
				_ = bar.Set64(e.Transferred)
			case session.TransferFinished:
				_ = bar.Finish()
				events.Close()
			}
			if next.Stage != current.Stage {
				changes, err := diff.Diff(current, next)
				if err != nil {
					logger.Errorf("failed to diff transfer status: %v", err)
				}
				for _, change := range changes {
					logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
				}
			}
			current = next
		}
	}()

	result := <-async.RunResult(func() (mediafetch.Outcome, error) {
		return s.Execute(ctx, token)
	})
	events.Close()
	wg.Wait()
	fmt.Println()

	outcome, err := result.Unwrap()
	if err != nil {
		if mediafetch.IsRetryable(err) {
			logger.Info("Transfer failed, resolve the URL again to retry")
		}
		return err
	}
	logger.Infof("Saved %s (%s, %s)", outcome.Filename, mediafetch.FormatBytes(outcome.Size), outcome.Strategy)
	return nil
}
