package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speechcoach/internal/analysis/client"
	"github.com/MrWong99/speechcoach/internal/app"
	"github.com/MrWong99/speechcoach/internal/config"
	"github.com/MrWong99/speechcoach/internal/practice"
	"github.com/MrWong99/speechcoach/internal/progress"
	"github.com/MrWong99/speechcoach/internal/realtime"
	"github.com/MrWong99/speechcoach/internal/report"
	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/audio/malgo"
	"github.com/MrWong99/speechcoach/pkg/culture"
)

type practiceFlags struct {
	profile     string
	culture     string
	endpoint    string
	maxDuration time.Duration
}

func newPracticeCmd(root *rootOptions) *cobra.Command {
	var f practiceFlags
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Record an answer from the microphone and get feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			applyPracticeFlags(cmd, cfg, f)
			if !progress.ValidProfile(cfg.Practice.Profile) {
				return fmt.Errorf("invalid profile name %q", cfg.Practice.Profile)
			}

			dev, err := malgo.New()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signalContext(ctx)
			defer stop()
			return runPractice(ctx, cfg, dev, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "profile to record progress under")
	cmd.Flags().StringVar(&f.culture, "culture", "", "audience culture, e.g. british or japanese (see `speechcoach cultures`)")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "override analysis.endpoint")
	cmd.Flags().DurationVar(&f.maxDuration, "max-duration", 0, "stop recording automatically after this long")
	return cmd
}

func applyPracticeFlags(cmd *cobra.Command, cfg *config.Config, f practiceFlags) {
	if cmd.Flags().Changed("profile") {
		cfg.Practice.Profile = f.profile
	}
	if cmd.Flags().Changed("culture") {
		cfg.Practice.Culture = f.culture
	}
	if cmd.Flags().Changed("endpoint") {
		cfg.Analysis.Endpoint = f.endpoint
	}
	if cmd.Flags().Changed("max-duration") {
		cfg.Practice.MaxDuration = f.maxDuration
	}
}

// runPractice records one answer from dev, stopping on a line from in, the
// maximum duration or ctx cancellation, and writes the report to out.
func runPractice(ctx context.Context, cfg *config.Config, dev audio.Device, in io.Reader, out io.Writer) error {
	repo, closeRepo, err := app.OpenRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeRepo()
	stats := progress.NewStore(repo)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	streams, err := buildStreamProvider(cfg, reg, nil)
	if err != nil {
		return err
	}

	aud := culture.Resolve(cfg.Practice.Culture)
	sess := practice.NewSession(dev,
		client.New(cfg.Analysis.Endpoint, client.WithTimeout(cfg.Analysis.Timeout)),
		practice.Config{
			Profile:          cfg.Practice.Profile,
			Culture:          aud,
			Language:         cfg.Practice.Language,
			MaxDuration:      cfg.Practice.MaxDuration,
			ChunkInterval:    cfg.Practice.ChunkInterval,
			RealtimeInterval: cfg.Practice.RealtimeInterval,
			RealtimeMinWords: cfg.Practice.RealtimeMinWords,
		},
		practice.WithStreamProvider(streams),
		practice.WithStatsRecorder(stats),
	)

	finished := make(chan struct{}, 1)
	sess.OnStateChange(func(s practice.State) {
		fmt.Fprintln(out, report.Status(string(s), stateDetail(s, cfg)))
		if s == practice.StateComplete || s == practice.StateError {
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})
	sess.OnRealtimeFeedback(func(items []realtime.Item) {
		fmt.Fprint(out, report.Realtime(items))
	})

	fmt.Fprintf(out, "Audience: %s\n", culture.Lookup(aud).Name)
	if err := sess.Start(ctx); err != nil {
		var me *audio.MicrophoneError
		if errors.As(err, &me) && me.PermissionDenied() {
			return fmt.Errorf("microphone access was denied; allow it in your system settings and try again")
		}
		return err
	}
	if snap := sess.Snapshot(); snap.RecognitionErr != nil {
		fmt.Fprintln(out, report.Status("notice", "live transcript unavailable, the server will transcribe the recording"))
	}

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(in).ReadString('\n')
		close(enter)
	}()

	var snap practice.Snapshot
	select {
	case <-enter:
		snap, err = stopSession(context.WithoutCancel(ctx), sess, finished)
	case <-ctx.Done():
		snap, err = stopSession(context.WithoutCancel(ctx), sess, finished)
	case <-finished:
		snap = sess.Snapshot()
		err = snap.Err
	}
	if err != nil {
		slog.Debug("practice finished with error", "err", err)
	}
	if snap.Feedback == nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, report.Feedback(report.Result{
		Transcript: snap.Transcript,
		Feedback:   *snap.Feedback,
		Duration:   snap.Elapsed,
		Err:        snap.Err,
		Stats:      snap.Stats,
		Width:      report.Width(out),
	}))
	return nil
}

// stopSession stops the recording, or waits for an automatic stop that is
// already analyzing.
func stopSession(ctx context.Context, sess *practice.Session, finished <-chan struct{}) (practice.Snapshot, error) {
	snap, err := sess.Stop(ctx)
	switch {
	case errors.Is(err, practice.ErrAnalysisInFlight):
		<-finished
		snap = sess.Snapshot()
		return snap, snap.Err
	case errors.Is(err, practice.ErrInvalidTransition):
		// The automatic stop already finished.
		snap = sess.Snapshot()
		return snap, snap.Err
	}
	return snap, err
}

func stateDetail(s practice.State, cfg *config.Config) string {
	switch s {
	case practice.StateRecording:
		return fmt.Sprintf("speak now, press Enter to finish (stops after %s)", cfg.Practice.MaxDuration)
	case practice.StateTranscribing:
		return "finalizing recording"
	case practice.StateAnalyzing:
		return "analyzing your answer"
	case practice.StateError:
		return "analysis failed, showing general feedback"
	}
	return ""
}
