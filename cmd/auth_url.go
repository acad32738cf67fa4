package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teemow/calbridge/internal/google"
	"github.com/teemow/calbridge/internal/server"
	"github.com/teemow/calbridge/internal/tokenstore"
)

func newAuthURLCmd() *cobra.Command {
	var (
		userID  string
		consent bool
	)

	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print the link a user visits to connect their calendar",
		Long: `Print the bridge link a user opens in a browser to connect their Google
Calendar. The link starts the OAuth flow on a running calbridge server.

With --consent the Google consent URL itself is printed. Its state parameter
is only accepted by a server sharing the same --state-secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runAuthURL(cmd.OutOrStdout(), v, userID, consent)
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "User id to connect")
	cmd.Flags().BoolVar(&consent, "consent", false, "Print the Google consent URL instead of the bridge link")
	cmd.Flags().String("http-addr", server.DefaultHTTPAddr, "Listen address of the server, used to derive a localhost base URL")
	addOAuthFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func runAuthURL(out io.Writer, v *viper.Viper, userID string, consent bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	oauth, err := loadOAuthConfig(v, v.GetString("http-addr"))
	if err != nil {
		return err
	}
	if consent && oauth.EphemeralState {
		return configError(configCodeInvalidStateSecret, "--consent requires the server's --state-secret")
	}

	// The store is never touched when only building URLs.
	flow, err := google.NewFlowManager(google.Config{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		BaseURL:      oauth.BaseURL,
		StateSecret:  oauth.StateSecret,
		StateTTL:     google.DefaultStateTTL,
	}, tokenstore.NewMemoryStore())
	if err != nil {
		return err
	}

	link := flow.AuthURL(userID)
	if consent {
		if link, err = flow.BeginAuthorization(userID); err != nil {
			return fmt.Errorf("failed to build consent URL: %w", err)
		}
	}
	_, err = fmt.Fprintln(out, link)
	return err
}
