package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/jwulff/medibot/internal/chat"
	"github.com/jwulff/medibot/internal/db"
	"github.com/jwulff/medibot/internal/intake"
	"github.com/jwulff/medibot/internal/playback"
	"github.com/jwulff/medibot/internal/settings"
	"github.com/jwulff/medibot/internal/ui"
	"github.com/jwulff/medibot/internal/video"
)

// --- summarize ---

func newSummarizeCmd(gf *globalFlags) *cobra.Command {
	var text, file string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Analyze patient data and print the summary",
		Long: `Analyze patient data and print the summary.

Examples:
  medibot summarize --text "45 year old, fever and dry cough for 3 days"
  medibot summarize --file ./labs.pdf
  medibot summarize --text "follow-up visit" --file ./notes.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" && file == "" {
				return errors.New("one of --text or --file is required")
			}
			scope := setupDI(*gf, cmd.ErrOrStderr())
			defer shutdownDI(scope)

			svc, err := do.Invoke[*intake.Service](scope)
			if err != nil {
				return err
			}
			printStep(cmd.ErrOrStderr(), "Analyzing patient data")
			res, err := svc.Analyze(cmd.Context(), intake.Request{Text: text, FilePath: file})
			if err != nil {
				return fmt.Errorf("%s: %w", intake.FailureMessage(err), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "patient notes")
	cmd.Flags().StringVar(&file, "file", "", "document to attach (text or PDF)")
	return cmd
}

// --- chat ---

func newChatCmd(gf *globalFlags) *cobra.Command {
	var summary string
	var play, resume bool
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask one question about a summary",
		Long: `Ask one question about a summary and print the reply.

Examples:
  medibot chat "What tests would you order?" --context "$(medibot summarize --file labs.pdf)"
  medibot chat --play "Explain the diagnosis"
  medibot chat --resume "And the treatment?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := setupDI(*gf, cmd.ErrOrStderr())
			defer shutdownDI(scope)

			newChat, err := do.Invoke[chatFactory](scope)
			if err != nil {
				return err
			}
			history := do.MustInvoke[*historyService](scope)
			stderr := cmd.ErrOrStderr()

			var resumed []chat.Option
			if resume {
				if history.store == nil {
					return errors.New("--resume needs history enabled in settings")
				}
				opts, latestSummary, err := resumeLatest(history.store)
				if err != nil {
					return err
				}
				resumed = opts
				if summary == "" {
					summary = latestSummary
				}
			}

			sess := newChat(resumed...)
			sess.SetVoiceEnabled(play)
			if n := len(sess.Turns()); n > 0 {
				printStep(stderr, "Resuming session %s (%d earlier turns)", sess.ID(), n)
			}
			if history.store != nil {
				if err := history.store.StartSession(sess.ID(), summary); err != nil {
					printStep(stderr, "history unavailable: %v", err)
				}
				defer endHistorySession(stderr, history.store, sess.ID())
			}

			turn, err := sess.Submit(cmd.Context(), strings.Join(args, " "), summary)
			if err != nil {
				return err
			}
			if turn.IsError {
				return errors.New(turn.Text)
			}
			fmt.Fprintln(cmd.OutOrStdout(), turn.Text)
			if turn.HasAudio() {
				printStatus(stderr, "Audio", "%s", turn.AudioURL)
			}
			if play && turn.HasAudio() {
				waitPlayback(cmd.Context(), do.MustInvoke[*playback.Sink](scope))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&summary, "context", "", "patient summary the question is about")
	cmd.Flags().BoolVar(&play, "play", false, "play the spoken reply and wait for it to finish")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue the most recent session; its summary is the default --context")
	return cmd
}

// endHistorySession marks the session ended, reporting a failure on w.
func endHistorySession(w io.Writer, store *db.Store, id string) {
	if err := store.EndSession(id); err != nil {
		printStep(w, "could not close history session: %v", err)
	}
}

// resumeLatest loads the most recent session so a new chat continues it.
func resumeLatest(store *db.Store) ([]chat.Option, string, error) {
	latest, err := store.LatestSession()
	if err != nil {
		return nil, "", err
	}
	if latest == nil {
		return nil, "", errors.New("no session to resume")
	}
	turns, err := store.TurnsForSession(latest.ID)
	if err != nil {
		return nil, "", err
	}
	return []chat.Option{chat.WithID(latest.ID), chat.WithHistory(turns)}, latest.Summary, nil
}

// waitPlayback blocks until the sink is idle or ctx is done, then stops it.
func waitPlayback(ctx context.Context, sink *playback.Sink) {
	defer sink.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, playing := sink.Playing(); !playing {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// --- video ---

func newVideoCmd(gf *globalFlags) *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Generate an explainer video for a summary and wait for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(summary) == "" {
				return errors.New("--summary is required")
			}
			scope := setupDI(*gf, cmd.ErrOrStderr())
			defer shutdownDI(scope)

			poller, err := do.Invoke[*video.Poller](scope)
			if err != nil {
				return err
			}
			defer poller.Close()

			stderr := cmd.ErrOrStderr()
			poller.OnChange(func(j video.Job) {
				switch j.State {
				case video.StateSubmitting:
					printStep(stderr, "Submitting video request")
				case video.StatePolling:
					if j.Attempts == 0 {
						printStep(stderr, "Video %s accepted, waiting for it to render", j.ID)
					} else {
						printStep(stderr, "Still rendering (check %d)", j.Attempts)
					}
				}
			})

			if _, err := poller.RequestVideo(cmd.Context(), summary); err != nil {
				return err
			}
			job, err := poller.Wait(cmd.Context())
			if err != nil {
				return err
			}
			switch job.State {
			case video.StateReady:
				printSuccess(stderr, "Video ready")
				fmt.Fprintln(cmd.OutOrStdout(), job.ResultURL)
				return nil
			case video.StateFailed:
				return errors.New(job.ErrorMessage)
			}
			return fmt.Errorf("video generation stopped in state %s", job.State)
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "patient summary to explain")
	return cmd
}

// --- history ---

func newHistoryCmd(gf *globalFlags) *cobra.Command {
	var limit int
	var sessionID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent chat sessions and video jobs, or one session's turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := setupDI(*gf, cmd.ErrOrStderr())
			defer shutdownDI(scope)

			h, err := do.Invoke[*historyService](scope)
			if err != nil {
				return err
			}
			if h.store == nil {
				return errors.New("history is disabled in settings")
			}
			out := cmd.OutOrStdout()
			if sessionID != "" {
				return printTranscript(out, h.store, sessionID)
			}

			sessions, err := h.store.RecentSessions(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, colorize(ui.TitleStyle, "Sessions"))
			if len(sessions) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "  %s  %s  %-6s  %3d turns  %s\n",
					s.StartedAt.Local().Format("2006-01-02 15:04"), s.ID, s.Status, s.TurnCount, oneLine(s.Summary, 60))
			}

			jobs, err := h.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, colorize(ui.TitleStyle, "Videos"))
			if len(jobs) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, j := range jobs {
				detail := j.ResultURL
				if j.State == video.StateFailed {
					detail = j.ErrorMessage
				}
				fmt.Fprintf(out, "  %s  %-9s  %s\n",
					j.UpdatedAt.Local().Format("2006-01-02 15:04"), j.State, detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries to show")
	cmd.Flags().StringVar(&sessionID, "session", "", "print the turns of this session")
	return cmd
}

func printTranscript(w io.Writer, store *db.Store, sessionID string) error {
	turns, err := store.TurnsForSession(sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return fmt.Errorf("no turns recorded for session %s", sessionID)
	}
	for _, t := range turns {
		speaker := colorize(ui.TitleStyle, "You")
		if t.Origin == chat.OriginAssistant {
			speaker = colorize(ui.TitleStyle, "Assistant")
		}
		text := t.Text
		if t.IsError {
			text = colorize(ui.ErrorStyle, text)
		}
		fmt.Fprintf(w, "%s  %s: %s\n", t.CreatedAt.Local().Format("15:04:05"), speaker, text)
		if t.HasAudio() {
			fmt.Fprintf(w, "          audio: %s\n", t.AudioURL)
		}
	}
	return nil
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// --- settings ---

func newSettingsCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or create the settings file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath(*gf)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as JSON, credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath(*gf)
			if err != nil {
				return err
			}
			s, err := settings.Load(path)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s.Redacted())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath(*gf)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := settings.Save(path, settings.Defaults()); err != nil {
				return err
			}
			printSuccess(cmd.ErrOrStderr(), "Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func settingsPath(gf globalFlags) (string, error) {
	if gf.settingsPath != "" {
		return gf.settingsPath, nil
	}
	return settings.Path()
}
