package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/ratelimit"
	"github.com/devpulse/devpulse/internal/store"
	"github.com/devpulse/devpulse/internal/syncer"
)

var syncWait bool

var syncCmd = &cobra.Command{
	Use:   "sync <team-id>",
	Short: "Run a one-shot sync for a team's repositories",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncWait, "wait", true, "block until all sessions reach a terminal status")
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var teamID int64
	if _, err := fmt.Sscan(args[0], &teamID); err != nil || teamID <= 0 {
		return fmt.Errorf("invalid team id %q", args[0])
	}

	st, err := store.New(cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	limiter := ratelimit.New(cfg.Forge.MaxRequests, cfg.Forge.RateWindow, cfg.Forge.ReserveTokens)
	dispatcher := syncer.NewDispatcher(st, limiter, logger)

	ctx := cmd.Context()
	// Caller 0 is the trusted internal path; the manager check is skipped.
	result, err := dispatcher.DispatchTeamSync(ctx, teamID, 0, cfg.Forge.Token)
	if err != nil {
		return err
	}
	for _, repo := range result.Repositories {
		fmt.Printf("session %d: %s/%s\n", repo.SessionID, repo.Owner, repo.Name)
	}
	if !syncWait {
		return nil
	}

	return waitForSessions(ctx, st, result.SessionIDs)
}

func waitForSessions(ctx context.Context, st *store.Store, sessionIDs []int64) error {
	pending := make(map[int64]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		pending[id] = true
	}

	var failed int
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}

		for id := range pending {
			session, err := st.GetSession(ctx, id)
			if err != nil {
				return err
			}
			if !session.Status.IsTerminal() {
				continue
			}
			delete(pending, id)
			fmt.Printf("session %d: %s (%d/%d commits, %d new)\n",
				id, session.Status, session.ProcessedCommits, session.TotalCommits, session.NewCommits)
			if session.Status != models.SyncCompleted {
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d session(s) did not complete", failed)
	}
	return nil
}
