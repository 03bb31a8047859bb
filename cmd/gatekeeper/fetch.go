package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-training/oauth-gatekeeper/pkg/oauth"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"github.com/spf13/cobra"
)

var fetchFlags struct {
	method      string
	data        string
	contentType string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <provider> <resource>",
	Short: "Call a provider API with the stored credentials",
	Long: `Call a provider API with the stored credentials and print the body.

The resource is resolved against the provider's service endpoint unless it
is an absolute URL on one of the provider's hosts.

Examples:
  gatekeeper fetch github user
  gatekeeper fetch github user/repos -X POST -d '{"name":"demo"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchFlags.method, "method", "X", http.MethodGet, "HTTP method")
	fetchCmd.Flags().StringVarP(&fetchFlags.data, "data", "d", "", "request body")
	fetchCmd.Flags().StringVar(&fetchFlags.contentType, "content-type", "application/json", "content type of --data")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	id, resource := args[0], args[1]
	return withProvider(cmd, id, func(ctx context.Context, a oauth.Authorizer) error {
		pc := a.Config()
		if !pc.OwnsURL(resource) {
			return fmt.Errorf("resource %q is outside the endpoints of provider %q", resource, id)
		}

		call := transport.Call{Method: strings.ToUpper(fetchFlags.method), URL: resource}
		if fetchFlags.data != "" {
			call.Body = []byte(fetchFlags.data)
			call.Headers = http.Header{"Content-Type": {fetchFlags.contentType}}
		}

		res, err := a.Fetch(ctx, cliRequest(), call)
		if err != nil {
			return err
		}
		if !res.Result.Authorized() {
			return fmt.Errorf("%s rejected the stored credentials, run: gatekeeper login %s", id, id)
		}

		out := cmd.OutOrStdout()
		if _, err := out.Write(res.Envelope.Raw); err != nil {
			return err
		}
		if n := len(res.Envelope.Raw); n > 0 && res.Envelope.Raw[n-1] != '\n' {
			fmt.Fprintln(out)
		}
		if res.Envelope.Code >= http.StatusBadRequest {
			return fmt.Errorf("%s returned status %d", id, res.Envelope.Code)
		}
		return nil
	})
}
