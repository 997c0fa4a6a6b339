// GoImpersonate makes HTTPS requests whose TLS ClientHello and HTTP/2
// connection preface replay a real browser's fingerprint.
//
// Commands:
//
//	ja3 <string>      parse and validate a JA3 fingerprint
//	akamai <string>   parse and validate an Akamai HTTP/2 fingerprint
//	lookup            print the fingerprints stored for a browser version
//	get <url>         fetch a URL with an impersonating client
//	serve             expose metrics and the resolved profile over HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firasghr/GoImpersonate/client"
	"github.com/firasghr/GoImpersonate/config"
	"github.com/firasghr/GoImpersonate/dashboard"
	"github.com/firasghr/GoImpersonate/database"
	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/logger"
	"github.com/firasghr/GoImpersonate/metrics"
	"github.com/firasghr/GoImpersonate/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// clientFlags are shared by the commands that build a client.
type clientFlags struct {
	configFile string
	browser    string
	version    int
	device     string
	iosVersion int
	ja3        string
	akamai     string
	userAgent  string
	proxy      string
	insecure   bool
	strict     bool
	logLevel   string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configFile, "config", "c", "", "JSON or YAML config file")
	fs.StringVar(&f.browser, "browser", "", "browser to impersonate (chrome, edge, brave, opera, firefox, safari)")
	fs.IntVar(&f.version, "version", 0, "browser major version")
	fs.StringVar(&f.device, "device", "", "desktop, android or ios")
	fs.IntVar(&f.iosVersion, "ios-version", 0, "iOS major version for ios devices")
	fs.StringVar(&f.ja3, "ja3", "", "explicit JA3 fingerprint")
	fs.StringVar(&f.akamai, "akamai", "", "explicit Akamai HTTP/2 fingerprint")
	fs.StringVarP(&f.userAgent, "user-agent", "A", "", "User-Agent to send and to derive the fingerprint from")
	fs.StringVarP(&f.proxy, "proxy", "x", "", "proxy URL (http, https, socks5)")
	fs.BoolVarP(&f.insecure, "insecure", "k", false, "skip server certificate verification")
	fs.BoolVar(&f.strict, "strict", false, "require an exact version match in the database")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info or error")
}

// load merges the config file with the flags set on cmd.
func (f *clientFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(f.configFile); err != nil {
			return nil, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("browser") {
		cfg.Browser = f.browser
	}
	if changed("version") {
		cfg.Version = f.version
	}
	if changed("device") {
		cfg.Device = f.device
	}
	if changed("ios-version") {
		cfg.IOSVersion = f.iosVersion
	}
	if changed("ja3") {
		cfg.JA3 = f.ja3
	}
	if changed("akamai") {
		cfg.Akamai = f.akamai
	}
	if changed("user-agent") {
		cfg.UserAgent = f.userAgent
	}
	if changed("proxy") {
		cfg.Proxy = f.proxy
	}
	if changed("insecure") {
		cfg.InsecureSkipVerify = f.insecure
	}
	if changed("strict") {
		cfg.BestEffort = !f.strict
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cfg.Browser != "" && cfg.Version == 0 {
		cfg.Version = config.DefaultVersion
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logger.New(lvl), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "goimpersonate",
		Short:         "Browser TLS and HTTP/2 fingerprint impersonation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newJA3Cmd(), newAkamaiCmd(), newLookupCmd(), newGetCmd(), newServeCmd())
	return root
}

func newJA3Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ja3 <string>",
		Short: "Parse a JA3 fingerprint and check it can be replayed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := fingerprint.TLSProfileFromJA3(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ja3:        %s\n", p.JA3())
			fmt.Fprintf(w, "ciphers:    %v\n", p.Ciphers())
			fmt.Fprintln(w, "extensions:")
			for _, id := range p.Extensions() {
				name, _ := fingerprint.ExtensionName(id)
				fmt.Fprintf(w, "  %5d %s\n", id, name)
			}
			fmt.Fprintf(w, "groups:     %v\n", p.Groups())
			fmt.Fprintf(w, "key shares: %v\n", p.KeyShares())
			fmt.Fprintf(w, "alpn:       %v\n", p.Args().ALPN)
			return nil
		},
	}
}

func newAkamaiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "akamai <string>",
		Short: "Parse an Akamai HTTP/2 fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := fingerprint.HTTP2ProfileFromAkamai(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "akamai:     %s\n", p.Akamai())
			fmt.Fprintln(w, "settings:")
			for _, s := range p.Settings() {
				fmt.Fprintf(w, "  %s = %d\n", s.ID, s.Val)
			}
			fmt.Fprintf(w, "window:     %d\n", p.ConnectionFlow())
			for _, pr := range p.Priorities() {
				fmt.Fprintf(w, "priority:   %+v\n", pr)
			}
			fmt.Fprintf(w, "pseudo:     %s\n", strings.Join(p.PseudoHeaderOrder(), ","))
			return nil
		},
	}
}

func newLookupCmd() *cobra.Command {
	var (
		browser    string
		version    int
		device     string
		iosVersion int
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Print the JA3 and Akamai strings stored for a browser version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := database.ParseDevice(device)
			if err != nil {
				return err
			}
			mode := database.BestEffort
			if strict {
				mode = database.Strict
			}
			db := database.Default()
			ja3, err := db.JA3(browser, version, iosVersion, mode)
			if err != nil {
				return err
			}
			akamai, err := db.Akamai(browser, version, dev, iosVersion, mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ja3:    %s\nakamai: %s\n", ja3, akamai)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&browser, "browser", config.DefaultBrowser, "browser name")
	fs.IntVar(&version, "version", config.DefaultVersion, "browser major version")
	fs.StringVar(&device, "device", string(database.Desktop), "desktop, android or ios")
	fs.IntVar(&iosVersion, "ios-version", 0, "iOS major version")
	fs.BoolVar(&strict, "strict", false, "require an exact version match")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		flags   clientFlags
		headers []string
		include bool
		output  string
		repeat  int
		workers int
	)
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch a URL with an impersonating client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			m := metrics.NewMetrics()
			c, err := client.NewHTTPClientFromConfig(cfg, database.Default(), log, m)
			if err != nil {
				return err
			}

			extra := &client.OrderedHeader{}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q is not name: value", h)
				}
				extra.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}
			newRequest := func(ctx context.Context) (*http.Request, error) {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[0], nil)
				if err != nil {
					return nil, err
				}
				extra.ApplyToRequest(req)
				return req, nil
			}
			if repeat > 1 {
				return runRepeated(cmd, c, newRequest, repeat, workers, log, m)
			}

			req, err := newRequest(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			resp, err := c.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			log.Info("response",
				zap.String("url", req.URL.Redacted()),
				zap.String("proto", resp.Proto),
				zap.Int("status", resp.StatusCode),
				zap.Duration("elapsed", time.Since(start)))

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if include {
				fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
				if err := resp.Header.Write(w); err != nil {
					return err
				}
				fmt.Fprintln(w)
			}
			if _, err := io.Copy(w, resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("server returned %s", resp.Status)
			}
			return nil
		},
	}
	flags.register(cmd)
	fs := cmd.Flags()
	fs.StringArrayVarP(&headers, "header", "H", nil, `extra request header "Name: value" (repeatable)`)
	fs.BoolVarP(&include, "include", "i", false, "print the status line and response headers")
	fs.StringVarP(&output, "output", "o", "", "write the body to a file")
	fs.IntVarP(&repeat, "repeat", "n", 1, "send the request n times and print a summary")
	fs.IntVar(&workers, "concurrency", 4, "parallel requests when repeating")
	return cmd
}

// runRepeated sends n requests on a worker pool and prints the outcome of
// each, followed by the metrics totals.
func runRepeated(cmd *cobra.Command, c *http.Client, newRequest func(context.Context) (*http.Request, error),
	n, concurrency int, log *logger.Logger, m *metrics.Metrics) error {
	statuses := make([]string, n)
	errs := worker.Run(cmd.Context(), n, concurrency, func(ctx context.Context, i int) error {
		req, err := newRequest(ctx)
		if err != nil {
			return err
		}
		resp, err := c.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return err
		}
		statuses[i] = resp.Proto + " " + resp.Status
		return nil
	})

	w := cmd.OutOrStdout()
	for i, err := range errs {
		if err != nil {
			log.Debug("request failed", zap.Int("n", i), zap.Error(err))
			fmt.Fprintf(w, "%4d error: %v\n", i, err)
			continue
		}
		fmt.Fprintf(w, "%4d %s\n", i, statuses[i])
	}
	total, success, failed := m.Snapshot()
	fmt.Fprintf(w, "total=%d success=%d failed=%d rps=%.1f\n", total, success, failed, m.RequestsPerSecond())
	return errors.Join(errs...)
}

func newServeCmd() *cobra.Command {
	var (
		flags clientFlags
		addr  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and the resolved fingerprint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			m := metrics.NewMetrics()
			db := database.Default()
			profile, err := cfg.ResolveProfiles(db)
			m.ObserveLookup(err)
			if err != nil {
				return err
			}

			dash := dashboard.New(m, db, log)
			dash.SetProfile(profile)

			errCh := make(chan error, 1)
			go func() { errCh <- dash.ListenAndServe(addr) }()
			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
				log.Info("shutting down")
				return nil
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
