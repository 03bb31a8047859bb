package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/oauth"
	"github.com/go-training/oauth-gatekeeper/pkg/store"

	"github.com/spf13/cobra"
)

var loginFlags struct {
	callbackAddr string
	timeout      time.Duration
	noBrowser    bool
}

var loginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Authorize a provider in the browser",
	Long: `Authorize a provider in the browser and store the resulting token.

A local server receives the provider's redirect, so the provider must accept
http://<callback-addr>/auth/<provider>/callback as a redirect URI.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginFlags.callbackAddr, "callback-addr", "127.0.0.1:8085", "address of the local callback server")
	loginCmd.Flags().DurationVar(&loginFlags.timeout, "timeout", 5*time.Minute, "how long to wait for the callback")
	loginCmd.Flags().BoolVar(&loginFlags.noBrowser, "no-browser", false, "print the URL instead of opening a browser")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	providers, err := loadProviders(cfg)
	if err != nil {
		return err
	}
	var pc *oauth.ProviderConfig
	for i := range providers {
		if providers[i].ID == args[0] {
			pc = &providers[i]
		}
	}
	if pc == nil {
		return fmt.Errorf("%w: %q", oauth.ErrUnknownProvider, args[0])
	}

	cb, err := newCallbackServer(loginFlags.callbackAddr, "/auth/"+pc.ID+"/callback")
	if err != nil {
		return err
	}
	defer cb.Close()

	pc.RedirectURI = cb.URL()
	pc.RedirectProxyURL = ""
	pc.FlowType = oauth.FlowServerSide

	st, closeFn, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	a, err := oauth.New(*pc, store.Scoped(st, localScope),
		oauth.WithLogger(slog.Default()),
		oauth.WithStateSigner(oauth.NewStateSigner([]byte(cfg.StateSecret))),
	)
	if err != nil {
		return err
	}
	cb.Serve(a)

	req := oauth.Request{Method: http.MethodGet, Origin: cb.Addr()}
	res, err := a.Authorized(ctx, req, true)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Authorized() {
		fmt.Fprintf(out, "Already authorized with %s, run: gatekeeper logout %s to start over\n", pc.ID, pc.ID)
		return nil
	}

	fmt.Fprintf(out, "Open this URL to authorize %s:\n\n  %s\n\n", pc.ID, res.RedirectURL)
	if !loginFlags.noBrowser {
		openBrowser(res.RedirectURL)
	}

	res, err = cb.Wait(ctx, loginFlags.timeout)
	if err != nil {
		return err
	}
	if !res.Authorized() {
		return fmt.Errorf("authorization with %s was not granted", pc.ID)
	}

	user, _, err := oauth.FetchIdentity(ctx, a, req)
	switch {
	case err == nil && user != nil:
		fmt.Fprintf(out, "Logged in to %s as %s\n", pc.ID, user.DisplayName())
	case err != nil && !errors.Is(err, oauth.ErrUnmappedEndpoint):
		slog.Warn("Failed to fetch identity", "provider", pc.ID, "error", err)
		fallthrough
	default:
		fmt.Fprintf(out, "Logged in to %s\n", pc.ID)
	}
	return nil
}

type callbackResult struct {
	result oauth.Result
	err    error
}

// callbackServer receives one authorization redirect on a local address.
type callbackServer struct {
	path     string
	listener net.Listener
	server   *http.Server
	done     chan callbackResult
}

func newCallbackServer(addr, path string) (*callbackServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for the callback: %w", err)
	}
	return &callbackServer{
		path:     path,
		listener: ln,
		done:     make(chan callbackResult, 1),
	}, nil
}

// Addr is the host:port the server listens on.
func (s *callbackServer) Addr() string {
	return s.listener.Addr().String()
}

// URL is the redirect URI the provider must send the browser to.
func (s *callbackServer) URL() string {
	return "http://" + s.Addr() + s.path
}

// Serve starts handling callbacks for a.
func (s *callbackServer) Serve(a oauth.Authorizer) {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		res, err := a.CheckAuthenticationProgress(r.Context(), oauth.RequestFromHTTP(nil, r))
		if err == nil && res.Status == oauth.StatusRedirectRequired {
			err = fmt.Errorf("provider asked for another authorization step")
		}

		w.Header().Set("Content-Type", "text/html")
		switch {
		case err != nil:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, callbackPage, "Authorization Failed", "Return to the terminal for details.")
		case !res.Authorized():
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprintf(w, callbackPage, "Authorization Denied", "You can now close this window.")
		default:
			_, _ = fmt.Fprintf(w, callbackPage, "Authorization Successful", "You can now close this window and return to the application.")
		}

		select {
		case s.done <- callbackResult{result: res, err: err}:
		default:
		}
	})
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "err", err)
		}
	}()
}

// Wait blocks until the first callback arrives.
func (s *callbackServer) Wait(ctx context.Context, timeout time.Duration) (oauth.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case r := <-s.done:
		return r.result, r.err
	case <-ctx.Done():
		return oauth.Result{}, fmt.Errorf("timed out waiting for the authorization callback")
	}
}

func (s *callbackServer) Close() error {
	if s.server == nil {
		return s.listener.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

const callbackPage = `<html>
	<body>
		<h1>%s</h1>
		<p>%s</p>
	</body>
</html>
`

// openBrowser opens the default browser to the specified URL
func openBrowser(url string) {
	var err error

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = errors.New("unsupported platform")
	}

	if err != nil {
		slog.Error("Failed to open browser", "err", err)
		slog.Info("Please open the following URL in your browser", "url", url)
	}
}
