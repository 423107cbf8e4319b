package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"stockanalysis/internal/admin"
	"stockanalysis/internal/display"
	"stockanalysis/internal/session"
)

func newPermissionsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Inspect and follow the signed-in user's permissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [CODENAME...]",
		Short: "Refresh permissions and test codenames against them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			if !a.sess.RefreshPermissions(ctx) {
				display.Notice(a.out, "could not refresh permissions, showing the last known set")
			}
			snap := a.sess.Snapshot()
			display.User(a.out, snap.User, snap.Permissions, a.sess.HasPredictionAccess(), a.sess.HasAdminAccess())
			for _, code := range args {
				if a.sess.HasPermission(code) {
					display.Success(a.out, "✓ "+code)
				} else {
					display.Dim(a.out, "✗ "+code)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print a notice whenever an administrator changes your permissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			events, cancel := a.sess.Subscribe()
			defer cancel()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			display.Dim(a.out, fmt.Sprintf("watching for permission changes every %s, Ctrl-C to stop", a.cfg.Session.PollInterval))

			// The cache follows the session for as long as the watch runs.
			runCtx, stop := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				a.cache.Run(runCtx, a.sess)
			}()
			defer func() {
				stop()
				<-done
			}()
			return a.watch(ctx, events)
		},
	})
	return cmd
}

func (a *app) watch(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch evt.Kind {
			case session.PermissionNotice:
				display.Notice(a.out, evt.Message)
			case session.PermissionsChanged:
				snap := a.sess.Snapshot()
				if snap.Permissions != nil {
					display.Dim(a.out, fmt.Sprintf("%d permissions, roles %v", len(snap.Permissions.Permissions), snap.Permissions.Roles))
				}
			case session.StateChanged:
				if evt.Status == session.Unauthenticated {
					return session.ErrSessionExpired
				}
			}
		}
	}
}

func newRolesCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Administer roles and their permissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			roles, err := a.planner.Roles(ctx)
			if err != nil {
				return err
			}
			display.Roles(a.out, roles)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show ROLE_ID",
		Short: "Show a role's permissions against the full catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.loadRole(ctx, args[0]); err != nil {
				return err
			}
			role, _ := a.planner.Role()
			display.RolePermissions(a.out, role, a.planner.Catalogue(), a.planner.Checked)
			return nil
		},
	})

	cmd.AddCommand(newRoleEditCmd(get, "grant", true), newRoleEditCmd(get, "revoke", false))
	return cmd
}

func newRoleEditCmd(get func() *app, verb string, checked bool) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   verb + " ROLE_ID PERMISSION...",
		Short: fmt.Sprintf("%s permissions (codename or app.codename)", verb),
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.loadRole(ctx, args[0]); err != nil {
				return err
			}
			for _, ref := range args[1:] {
				appLabel, codename, err := a.planner.Resolve(ref)
				if err != nil {
					return err
				}
				a.planner.Toggle(appLabel, codename, checked)
			}

			pending := a.planner.Pending()
			if len(pending) == 0 {
				display.Dim(a.out, "no changes to apply")
				return nil
			}
			display.Changes(a.out, pending)
			if !yes {
				role, _ := a.planner.Role()
				ok := false
				prompt := &survey.Confirm{Message: fmt.Sprintf("Apply these changes to %s?", role.Name)}
				if err := survey.AskOne(prompt, &ok); err != nil {
					return err
				}
				if !ok {
					a.planner.Reset()
					return nil
				}
			}

			if err := a.planner.Apply(ctx); err != nil && !errors.Is(err, admin.ErrNoChanges) {
				return err
			}
			display.Success(a.out, "permissions updated")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without confirmation")
	return cmd
}

func (a *app) loadRole(ctx context.Context, arg string) error {
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid role id %q", arg)
	}
	if err := a.planner.LoadCatalogue(ctx); err != nil {
		return err
	}
	return a.planner.Load(ctx, id)
}

func newUsersCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			users, err := a.client.UserList(ctx)
			if err != nil {
				return err
			}
			for i := range users {
				u := users[i]
				display.User(a.out, &u, nil, false, false)
			}
			return nil
		},
	}
}

func newImportsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "imports",
		Short: "Show the backend's stock data import history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			logs, err := a.client.ImportLogs(ctx)
			if err != nil {
				return err
			}
			for _, l := range logs {
				line := fmt.Sprintf("#%d %s %s %s: %d/%d ok, %d failed",
					l.ID, l.CreatedAt.Local().Format("2006-01-02 15:04"), l.ImportType, l.Status,
					l.SuccessRecords, l.TotalRecords, l.FailedRecords)
				if l.ErrorMessage != "" {
					line += " (" + l.ErrorMessage + ")"
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
}

func newModelsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List prediction models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			if !a.sess.HasPredictionAccess() {
				return errors.New("prediction access required")
			}
			raw, err := a.client.MLModels(ctx)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(a.out, buf.String())
			return nil
		},
	}
}
