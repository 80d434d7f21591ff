// Command kino-probe loads a manifest URL, drives playback ticks
// against it, and prints a QoE summary on exit. It exists to exercise
// the library end to end outside of a host application.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ExpertVagabond/kino"
	"github.com/ExpertVagabond/kino/pkg/config"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/session"
	"github.com/ExpertVagabond/kino/pkg/types"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	manifestURL := flag.String("url", "", "Manifest URL to load (HLS or DASH)")
	configFile := flag.String("config", "", "Path to a YAML config file (optional, defaults used otherwise)")
	duration := flag.Duration("duration", 30*time.Second, "How long to drive playback before stopping")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kino-probe %s (commit: %s)\n", version, commit)
		return
	}

	if *manifestURL == "" {
		fmt.Fprintln(os.Stderr, "-url is required")
		os.Exit(1)
	}

	cfg := config.DefaultSDKConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	sdk, err := kino.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build SDK: %v\n", err)
		os.Exit(1)
	}
	defer sdk.Close(context.Background())

	sess, err := sdk.Load(ctx, *manifestURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		os.Exit(1)
	}

	log.Info("manifest loaded",
		logger.Field{Key: "session_id", Value: string(sess.ID())},
		logger.Field{Key: "rendition", Value: currentRenditionID(sess)},
	)

	if err := sess.Play(); err != nil {
		log.Warn("play deferred until enough buffer accumulates", logger.Field{Key: "error", Value: err})
	}

	deadline := time.After(*duration)
	ticker := time.NewTicker(kino.DefaultPollInterval)
	defer ticker.Stop()

	position := 0.0
	for {
		select {
		case <-ctx.Done():
			fmt.Println("stopped by signal")
			printSummary(sess)
			return
		case <-deadline:
			fmt.Println("duration elapsed")
			printSummary(sess)
			return
		case <-ticker.C:
			position += kino.DefaultPollInterval.Seconds()
			sess.UpdatePosition(position)
			if rendition := sess.ReselectRendition(); rendition != nil {
				log.Debug("rendition reselected", logger.Field{Key: "rendition", Value: rendition.ID})
			}
			if sess.State() == types.StateBuffering {
				if err := sess.Play(); err != nil {
					log.Debug("still buffering", logger.Field{Key: "error", Value: err})
				}
			}
		}
	}
}

func currentRenditionID(sess *session.Session) string {
	rendition := sess.CurrentRendition()
	if rendition == nil {
		return "none"
	}
	return rendition.ID
}

func printSummary(sess *session.Session) {
	qoe := sess.QoE()
	fmt.Printf("session %s final QoE score: %.2f\n", sess.ID(), qoe.Score)
	fmt.Printf("  initial buffer time: %.2fs\n", qoe.InitialBufferTime)
	fmt.Printf("  rebuffers: %d totaling %.2fs\n", qoe.RebufferCount, qoe.RebufferDuration)
	fmt.Printf("  quality switches: %d\n", qoe.QualitySwitches)
	fmt.Printf("  average bitrate: %d bps\n", qoe.AverageBitrate)
}
