package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/oauth"

	"github.com/spf13/cobra"
)

// withRegistry opens the store and runs fn with the command line registry.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *oauth.Registry) error) error {
	st, closeFn, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	g, err := newGateway(cfg, st, nil)
	if err != nil {
		return err
	}
	if err := g.bindScope(cmd.Context(), localScope); err != nil {
		return err
	}
	reg, err := g.local()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), reg)
}

// withProvider runs fn with the authorizer of one provider.
func withProvider(cmd *cobra.Command, id string, fn func(ctx context.Context, a oauth.Authorizer) error) error {
	return withRegistry(cmd, func(ctx context.Context, reg *oauth.Registry) error {
		a, err := reg.Provider(id)
		if err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

// cliRequest is the inbound request of command line calls. Its origin is
// the gateway host so that flows started here can finish at the gateway.
func cliRequest() oauth.Request {
	origin := cfg.BaseURL
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		origin = u.Host
	}
	return oauth.Request{Method: http.MethodGet, Origin: origin, Session: localScope}
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their authorization status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRegistry(cmd, func(ctx context.Context, reg *oauth.Registry) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tTEMPLATE\tAUTHORIZED\tEXPIRES")
			for _, id := range reg.IDs() {
				a, err := reg.Provider(id)
				if err != nil {
					return err
				}
				st, err := a.Snapshot(ctx)
				if err != nil {
					return err
				}
				expires := "-"
				if st.AccessTokenExpires > 0 {
					expires = time.Unix(st.AccessTokenExpires, 0).UTC().Format(time.RFC3339)
				}
				template := a.Config().Template
				if template == "" {
					template = "-"
				}
				authorized := "no"
				if st.Authorized() {
					authorized = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, a.Kind(), template, authorized, expires)
			}
			return w.Flush()
		})
	},
}

var tokenFlags struct {
	restore string
}

var tokenCmd = &cobra.Command{
	Use:   "token <provider>",
	Short: "Print or restore the stored credentials of a provider",
	Long: `Print the stored credentials of a provider as JSON.

With --restore, the JSON read from the file (or stdin for "-") replaces the
stored credentials instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd, args[0], func(ctx context.Context, a oauth.Authorizer) error {
			if tokenFlags.restore != "" {
				return restoreToken(ctx, cmd, a, tokenFlags.restore)
			}
			st, err := a.Snapshot(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		})
	},
}

func restoreToken(ctx context.Context, cmd *cobra.Command, a oauth.Authorizer, path string) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open token file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var st oauth.TokenState
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("failed to decode token file: %w", err)
	}
	if err := a.Restore(ctx, st); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored credentials of %s\n", a.ProviderID())
	return nil
}

var revokeFlags struct {
	userID string
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <provider>",
	Short: "Revoke the token at the provider and forget it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd, args[0], func(ctx context.Context, a oauth.Authorizer) error {
			if err := a.Revoke(ctx, revokeFlags.userID); err != nil {
				return fmt.Errorf("revoke failed, local credentials were removed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", a.ProviderID())
			return nil
		})
	},
}

var logoutFlags struct {
	all bool
}

var logoutCmd = &cobra.Command{
	Use:   "logout [provider...]",
	Short: "Forget the stored credentials of providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !logoutFlags.all {
			return fmt.Errorf("name at least one provider or pass --all")
		}
		return withRegistry(cmd, func(ctx context.Context, reg *oauth.Registry) error {
			ids := args
			if logoutFlags.all {
				ids = reg.IDs()
			}
			for _, id := range ids {
				a, err := reg.Provider(id)
				if err != nil {
					return err
				}
				if err := a.ResetAuthorization(ctx); err != nil {
					return fmt.Errorf("provider %q: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", id)
			}
			return nil
		})
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.restore, "restore", "", `restore credentials from a JSON file ("-" for stdin)`)
	revokeCmd.Flags().StringVar(&revokeFlags.userID, "user-id", "", "provider user id, for providers that revoke per user")
	logoutCmd.Flags().BoolVar(&logoutFlags.all, "all", false, "log out of every provider")

	rootCmd.AddCommand(providersCmd, tokenCmd, revokeCmd, logoutCmd)
}
