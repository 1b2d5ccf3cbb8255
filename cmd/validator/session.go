package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and change the local caller session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hub := newHub()
		s, err := hub.Refresh(cmd.Context(), session.ReasonUserRefresh)
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var sessionRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the session from disk and persist it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hub := newHub()
		s, err := hub.Update(cmd.Context(), func(*session.Session) {})
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var sessionLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials and entitlement for an authenticated or admin caller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, _ := cmd.Flags().GetString("token")
		role, _ := cmd.Flags().GetString("role")
		tier, _ := cmd.Flags().GetString("tier")
		limit, _ := cmd.Flags().GetInt("limit")
		if token == "" {
			return usageError(fmt.Errorf("--token is required"))
		}

		s, err := newHub().Update(cmd.Context(), func(s *session.Session) {
			s.Token = token
			s.Role = batch.ParseRole(role)
			if s.Role == batch.RoleAnonymous {
				s.Role = batch.RoleAuthenticated
			}
			if tier != "" {
				s.Tier = tier
			}
			if limit > 0 {
				s.APICallsLimit = limit
			}
		})
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop credentials and return to an anonymous session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newHub().Update(cmd.Context(), func(s *session.Session) {
			s.Token = ""
			s.Role = batch.RoleAnonymous
			s.Tier = ""
			s.APICallsCount = 0
			s.APICallsLimit = 0
			s.TeamInfo = nil
		})
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var sessionPrefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Set session preferences",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newHub().Update(cmd.Context(), func(s *session.Session) {
			if cmd.Flags().Changed("keep-duplicates") {
				s.KeepDuplicates, _ = cmd.Flags().GetBool("keep-duplicates")
			}
			if cmd.Flags().Changed("dark-mode") {
				s.DarkMode, _ = cmd.Flags().GetBool("dark-mode")
			}
		})
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	sessionLoginCmd.Flags().String("token", "", "Bearer token")
	sessionLoginCmd.Flags().String("role", string(batch.RoleAuthenticated), "Caller role (authenticated or admin)")
	sessionLoginCmd.Flags().String("tier", "", "Subscription tier")
	sessionLoginCmd.Flags().Int("limit", 0, "API call limit for the tier")
	sessionPrefsCmd.Flags().Bool("keep-duplicates", false, "Submit duplicate addresses as-is")
	sessionPrefsCmd.Flags().Bool("dark-mode", false, "Dark mode preference")

	sessionCmd.AddCommand(sessionShowCmd, sessionRefreshCmd, sessionLoginCmd, sessionLogoutCmd, sessionPrefsCmd)
	rootCmd.AddCommand(sessionCmd)
}

func newHub() *session.Hub {
	return session.NewHub(session.NewFileStore(cfg.Session.Path), logger)
}

func printSession(w io.Writer, s session.Session) {
	_, _ = fmt.Fprintf(w, "user id:   %s\n", s.UserID)
	_, _ = fmt.Fprintf(w, "role:      %s\n", s.EffectiveRole())
	if s.Token != "" {
		_, _ = fmt.Fprintln(w, "token:     <redacted>")
	}
	switch s.EffectiveRole() {
	case batch.RoleAnonymous:
		_, _ = fmt.Fprintf(w, "anonymous: %d of %d used\n", s.AnonymousValidations, cfg.Quota.AnonymousLimit)
	case batch.RoleAuthenticated:
		q := s.Quota()
		if s.Tier != "" {
			_, _ = fmt.Fprintf(w, "tier:      %s\n", s.Tier)
		}
		if q.IsTeamQuota {
			_, _ = fmt.Fprintf(w, "team:      %d of %d used (%d remaining)\n", q.Used, q.Limit, q.Remaining())
		} else {
			_, _ = fmt.Fprintf(w, "quota:     %d of %d used (%d remaining)\n", q.Used, q.Limit, q.Remaining())
		}
	}
	_, _ = fmt.Fprintf(w, "dedupe:    %t\n", s.Dedupe())
}
