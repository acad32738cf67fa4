package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teemow/calbridge/internal/logging"
	"github.com/teemow/calbridge/internal/tokenstore"
)

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect or delete stored user credentials",
		Long: `Inspect or delete the Google credentials calbridge stores per user.

Token values are never printed. Deleting a credential only removes the local
record; the user has to connect again and the grant stays valid at Google
until revoked there.`,
	}
	addStoreFlags(cmd.PersistentFlags())
	addLoggingFlags(cmd.PersistentFlags())

	cmd.AddCommand(newTokensShowCmd())
	cmd.AddCommand(newTokensDeleteCmd())
	return cmd
}

func newTokensShowCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show expiry and scopes of a user's credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store tokenstore.Store) error {
				return showCredential(ctx, cmd.OutOrStdout(), store, userID, time.Now())
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newTokensDeleteCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a user's stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store tokenstore.Store) error {
				return deleteCredential(ctx, cmd.OutOrStdout(), store, userID)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store tokenstore.Store) error) error {
	v, err := newConfig(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := loadStoreConfig(v)
	if err != nil {
		return err
	}
	if cfg.Type == tokenstore.TypeMemory {
		return fmt.Errorf("the memory token store is private to a running server")
	}
	logger := tokensLogger(v)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close token store", logging.Err(err))
		}
	}()
	return fn(ctx, store)
}

func tokensLogger(v *viper.Viper) *slog.Logger {
	return logging.NewLogger(os.Stderr, v.GetString("log-format"), v.GetBool("debug"))
}

func showCredential(ctx context.Context, out io.Writer, store tokenstore.Store, userID string, now time.Time) error {
	cred, err := store.Get(ctx, userID)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return fmt.Errorf("no credential stored for user %q", userID)
	}
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}

	expiry := "unknown"
	if !cred.ExpiresAt.IsZero() {
		expiry = cred.ExpiresAt.UTC().Format(time.RFC3339)
		if !cred.ExpiresAt.After(now) {
			expiry += " (expired)"
		}
	}
	scopes := "none recorded"
	if len(cred.Scopes) > 0 {
		scopes = strings.Join(cred.Scopes, " ")
	}

	fmt.Fprintf(out, "User:          %s\n", cred.UserID)
	fmt.Fprintf(out, "Store:         %s\n", tokenstore.DriverOf(store))
	fmt.Fprintf(out, "Access token:  expires %s\n", expiry)
	fmt.Fprintf(out, "Refreshable:   %t\n", cred.Refreshable())
	fmt.Fprintf(out, "Scopes:        %s\n", scopes)
	return nil
}

func deleteCredential(ctx context.Context, out io.Writer, store tokenstore.Store, userID string) error {
	if err := store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	_, err := fmt.Fprintf(out, "Deleted stored credential for user %q\n", userID)
	return err
}
