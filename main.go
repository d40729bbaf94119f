package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	"github.com/joho/godotenv"

	"turnstile-solver/internal/twocaptcha"
)

// Process exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
)

// envPrefix is prepended to flag names to form their environment variables,
// e.g. --api-key is read from TURNSTILE_API_KEY.
const envPrefix = "TURNSTILE_"

// envName is the environment variable flagenv reads for a flag.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// turnstileSolver is the one capability this tool consumes.
type turnstileSolver interface {
	Turnstile(ctx context.Context, req twocaptcha.TurnstileRequest) (*twocaptcha.Result, error)
}

type solverFactory func(cfg appConfig, log *logger) (turnstileSolver, error)

func newTwoCaptchaSolver(cfg appConfig, log *logger) (turnstileSolver, error) {
	c, err := twocaptcha.New(cfg.APIKey,
		twocaptcha.WithBaseURL(cfg.APIBase),
		twocaptcha.WithPollingInterval(time.Duration(cfg.PollingInterval)*time.Second),
		twocaptcha.WithTimeout(time.Duration(cfg.Timeout)*time.Second),
		twocaptcha.WithLogger(log.z),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// app wires the command to its outputs and solver. Only the payload goes to
// stdout; usage and logs go to stderr.
type app struct {
	log       *logger
	stdout    io.Writer
	stderr    io.Writer
	newSolver solverFactory
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		log:       newLogger(os.Stderr),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newSolver: newTwoCaptchaSolver,
	}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run performs one solve and writes exactly one payload, unless help was
// requested. It returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	token, err := a.solve(ctx, args)
	if errors.Is(err, flag.ErrHelp) {
		printUsage(a.stderr)
		return exitSuccess
	}
	if err != nil {
		a.logFailure(err)
		if werr := writePayload(a.stdout, failurePayload{Error: err.Error()}); werr != nil {
			a.log.err(werr.Error())
		}
		return exitFailure
	}
	if err := writePayload(a.stdout, successPayload{Code: token}); err != nil {
		a.log.err(err.Error())
		return exitFailure
	}
	return exitSuccess
}

func (a *app) solve(ctx context.Context, args []string) (string, error) {
	cfg, err := a.configure(args)
	if err != nil {
		return "", err
	}

	req, err := cfg.turnstileRequest()
	if err != nil {
		return "", err
	}

	solver, err := a.newSolver(cfg, a.log)
	if err != nil {
		return "", err
	}

	a.log.infof("solving turnstile: sitekey=%s url=%s key=%s", cfg.SiteKey, cfg.URL, maskKey(cfg.APIKey))
	if req.Proxy != nil {
		a.log.infof("using proxy %s", req.Proxy)
	}

	start := time.Now()
	res, err := solver.Turnstile(ctx, req)
	if err != nil {
		return "", err
	}
	if res == nil || res.Code == "" {
		return "", twocaptcha.ErrEmptySolution
	}
	a.log.infof("solved: task=%d elapsed=%s", res.TaskID, time.Since(start).Round(100*time.Millisecond))
	return res.Code, nil
}

// configure layers defaults, the config file, environment and flags, lowest
// first.
func (a *app) configure(args []string) (appConfig, error) {
	fs := flag.NewFlagSet("turnstile-solver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath      = fs.String("config", defaultConfigPath, "path to config.json")
		apiKey          = fs.String("api-key", "", "2captcha API key")
		siteKey         = fs.String("sitekey", "", "Turnstile site key")
		pageURL         = fs.String("url", "", "page URL the challenge appears on")
		apiBase         = fs.String("api-base", "", "2captcha API base URL")
		action          = fs.String("action", "", "Turnstile action parameter")
		cdata           = fs.String("cdata", "", "Turnstile cData parameter")
		pagedata        = fs.String("pagedata", "", "Turnstile chlPageData parameter")
		userAgent       = fs.String("user-agent", "", "browser user agent to solve with")
		proxy           = fs.String("proxy", "", "proxy for the solving worker, [scheme://][user:pass@]host:port")
		pollingInterval = fs.Int("polling-interval", 0, "seconds between result polls")
		timeout         = fs.Int("timeout", 0, "seconds to wait for a solution")
		logLevel        = fs.String("log-level", "", "log level (debug, info, warn, error)")
	)
	if err := flagenv.ParseSet(envPrefix, fs); err != nil {
		return appConfig{}, fmt.Errorf("read environment: %w", err)
	}
	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}
	if fs.NArg() > 0 {
		return appConfig{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if err := a.log.setLevel(*logLevel); err != nil {
		return appConfig{}, err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return appConfig{}, err
	}
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.APIKey = v
	}

	// flagenv sets values without marking flags as visited, so a non-empty
	// value is what marks a string override.
	overrides := []struct {
		dst *string
		val string
	}{
		{&cfg.APIKey, *apiKey},
		{&cfg.SiteKey, *siteKey},
		{&cfg.URL, *pageURL},
		{&cfg.APIBase, *apiBase},
		{&cfg.Action, *action},
		{&cfg.CData, *cdata},
		{&cfg.PageData, *pagedata},
		{&cfg.UserAgent, *userAgent},
		{&cfg.Proxy, *proxy},
	}
	for _, o := range overrides {
		if o.val != "" {
			*o.dst = o.val
		}
	}
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	seconds := []struct {
		name string
		dst  *int
		val  int
	}{
		{"polling-interval", &cfg.PollingInterval, *pollingInterval},
		{"timeout", &cfg.Timeout, *timeout},
	}
	for _, o := range seconds {
		if !explicit[o.name] && os.Getenv(envName(o.name)) == "" {
			continue
		}
		if o.val <= 0 {
			return appConfig{}, fmt.Errorf("--%s must be > 0", o.name)
		}
		*o.dst = o.val
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return appConfig{}, err
	}
	a.log.debugf("config: sitekey=%s url=%s api=%s poll=%ds timeout=%ds", cfg.SiteKey, cfg.URL, cfg.APIBase, cfg.PollingInterval, cfg.Timeout)
	return cfg, nil
}

// logFailure classifies err for the operator. The payload carries the
// message verbatim either way.
func (a *app) logFailure(err error) {
	var (
		apiErr     *twocaptcha.APIError
		timeoutErr *twocaptcha.TimeoutError
		httpErr    *twocaptcha.HTTPError
	)
	switch {
	case errors.As(err, &apiErr):
		a.log.warnf("2captcha rejected the task: id=%d code=%s", apiErr.ID, apiErr.Code)
	case errors.As(err, &timeoutErr):
		a.log.warnf("no solution after %s", timeoutErr.After)
	case errors.As(err, &httpErr):
		a.log.warnf("2captcha returned http %d", httpErr.StatusCode)
	case errors.Is(err, context.Canceled):
		a.log.warn("interrupted")
	default:
		a.log.err(err.Error())
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "turnstile-solver: solve one Cloudflare Turnstile challenge via 2captcha")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  turnstile-solver [--config PATH] [--api-key KEY] [--sitekey KEY] [--url URL] [--proxy PROXY]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Prints {\"code\":\"<token>\"} and exits 0, or {\"error\":\"<message>\"} and exits 1.")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Options:")
	_, _ = fmt.Fprintln(w, "  --config            Path to config.json (default: config.json, optional)")
	_, _ = fmt.Fprintln(w, "  --api-key           2captcha API key")
	_, _ = fmt.Fprintln(w, "  --sitekey           Turnstile site key (default: "+defaultSiteKey+")")
	_, _ = fmt.Fprintln(w, "  --url               Page URL (default: "+defaultPageURL+")")
	_, _ = fmt.Fprintln(w, "  --api-base          2captcha API base URL")
	_, _ = fmt.Fprintln(w, "  --action            Turnstile action")
	_, _ = fmt.Fprintln(w, "  --cdata             Turnstile cData")
	_, _ = fmt.Fprintln(w, "  --pagedata          Turnstile chlPageData")
	_, _ = fmt.Fprintln(w, "  --user-agent        Browser user agent")
	_, _ = fmt.Fprintln(w, "  --proxy             Proxy for the solving worker; bare host:port means socks5")
	_, _ = fmt.Fprintln(w, "  --polling-interval  Seconds between result polls (default: 10)")
	_, _ = fmt.Fprintln(w, "  --timeout           Seconds to wait for a solution (default: 120)")
	_, _ = fmt.Fprintln(w, "  --log-level         debug, info, warn or error (default: warn)")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Environment:")
	_, _ = fmt.Fprintln(w, "  TURNSTILE_<FLAG>    Any flag, upper-cased with dashes as underscores")
	_, _ = fmt.Fprintln(w, "  APIKEY_2CAPTCHA     2captcha API key")
	_, _ = fmt.Fprintln(w, "  NO_COLOR            Disable colored log output")
}
