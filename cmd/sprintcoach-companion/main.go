package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/wearable"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	stateDir  string
	serverURL string
	apiKey    string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	home, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:     "sprintcoach-companion",
		Short:   "Companion device for SprintCoach",
		Long:    `sprintcoach-companion stands in for the wearable: it receives workouts launched from the phone and reports rep times back.`,
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", filepath.Join(home, ".sprintcoach-companion"), "directory for the companion state database")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "SprintCoach server URL (e.g. https://sprintcoach.tail1234.ts.net)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the server (listen: key the phone must present)")

	rootCmd.AddCommand(newListenCommand(), newReportCommand(), newStatusCommand())
	return rootCmd
}

func newListenCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive workouts from the phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return errors.New("--api-key is required")
			}
			log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

			state, err := wearable.OpenStateDB(stateDir)
			if err != nil {
				return err
			}
			defer state.Close()

			srv := &http.Server{Addr: addr, Handler: wearable.Handler(state, apiKey, log)}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			log.Info("companion listening", "addr", addr, "state_dir", stateDir)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	return cmd
}

func newReportCommand() *cobra.Command {
	var (
		sessionID string
		final     bool
	)
	cmd := &cobra.Command{
		Use:   "report <seconds>...",
		Short: "Report rep times measured on the companion",
		Long: `Report rep times for a workout. Without --session the latest workout
received by "listen" is used. --final marks the workout finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				return errors.New("--server is required")
			}
			times := make([]float64, 0, len(args))
			for _, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil || v <= 0 {
					return fmt.Errorf("invalid rep time %q", a)
				}
				times = append(times, v)
			}

			state, err := wearable.OpenStateDB(stateDir)
			if err != nil {
				return err
			}
			defer state.Close()

			if sessionID == "" {
				latest, err := state.Latest()
				if err != nil {
					return fmt.Errorf("no --session given: %w", err)
				}
				sessionID = latest.SessionID
			}

			if err := wearable.NewClient(serverURL, apiKey).ReportReps(sessionID, times, final); err != nil {
				return err
			}
			if err := state.SetRepTimes(sessionID, times); err != nil && !errors.Is(err, wearable.ErrNoWorkout) {
				return err
			}
			fmt.Printf("Reported %d reps for %s\n", len(times), sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (defaults to the latest launched workout)")
	cmd.Flags().BoolVar(&final, "final", false, "mark the workout completed")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pairing status and the latest workout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				client := wearable.NewClient(serverURL, apiKey)
				if apiKey != "" {
					// Ask the phone to push its current state to us.
					if err := client.Send(companion.Message{Type: companion.MsgSyncRequest}); err != nil {
						fmt.Printf("Sync request failed: %v\n", err)
					}
				}
				st, err := client.SyncStatus()
				if err != nil {
					return err
				}
				fmt.Printf("Server: %s\n", st.Text)
				if st.Syncing {
					fmt.Printf("Syncing: %.0f%%\n", st.Progress*100)
				}
				if st.LastSyncAt != nil {
					fmt.Printf("Last sync: %s\n", st.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
				}
			}

			state, err := wearable.OpenStateDB(stateDir)
			if err != nil {
				return err
			}
			defer state.Close()

			w, err := state.Latest()
			if errors.Is(err, wearable.ErrNoWorkout) {
				fmt.Println("No workout received")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Workout: %s\n", w.SessionID)
			if w.Config != nil {
				fmt.Printf("  %s: %d x %dyd, rest %ds (%s)\n", w.Config.Name, w.Config.RepCount, w.Config.DistanceUnits, w.Config.RestSeconds, w.Config.Variation)
			}
			fmt.Printf("  Phase: %s, rep %d\n", w.Phase, w.CurrentRep)
			for i, t := range w.RepTimes {
				fmt.Printf("  Rep %d: %.2fs\n", i+1, t)
			}
			fmt.Printf("  Updated: %s\n", w.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
