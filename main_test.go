package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile-solver/internal/twocaptcha"
)

type fakeSolver struct {
	res   *twocaptcha.Result
	err   error
	calls int
	req   twocaptcha.TurnstileRequest
}

func (f *fakeSolver) Turnstile(_ context.Context, req twocaptcha.TurnstileRequest) (*twocaptcha.Result, error) {
	f.calls++
	f.req = req
	return f.res, f.err
}

// isolateEnv keeps the developer's environment and working directory from
// leaking into a run.
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, k := range []string{
		envAPIKey,
		"TURNSTILE_API_KEY",
		"TURNSTILE_SITEKEY",
		"TURNSTILE_URL",
		"TURNSTILE_PROXY",
		"TURNSTILE_CONFIG",
		"TURNSTILE_LOG_LEVEL",
		"TURNSTILE_TIMEOUT",
		"TURNSTILE_POLLING_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	return filepath.Join(t.TempDir(), "missing.json")
}

type testRun struct {
	code    int
	stdout  string
	stderr  string
	created int
	cfg     appConfig
}

func runApp(t *testing.T, solver turnstileSolver, args ...string) testRun {
	t.Helper()
	var stdout, stderr bytes.Buffer
	var tr testRun
	a := &app{
		log:    newLogger(&stderr),
		stdout: &stdout,
		stderr: &stderr,
		newSolver: func(cfg appConfig, _ *logger) (turnstileSolver, error) {
			tr.created++
			tr.cfg = cfg
			return solver, nil
		},
	}
	tr.code = a.run(context.Background(), args)
	tr.stdout = stdout.String()
	tr.stderr = stderr.String()
	return tr
}

func decodePayload(t *testing.T, out string) map[string]any {
	t.Helper()
	require.Equal(t, 1, bytes.Count([]byte(out), []byte("\n")), "stdout must be one line: %q", out)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	require.Len(t, m, 1, "exactly one of code/error: %q", out)
	return m
}

func TestRunScenarios(t *testing.T) {
	tests := []struct {
		name     string
		solver   *fakeSolver
		wantCode int
		wantOut  string
	}{
		{
			name:     "token",
			solver:   &fakeSolver{res: &twocaptcha.Result{TaskID: 1, Code: "abc123"}},
			wantCode: exitSuccess,
			wantOut:  `{"code":"abc123"}` + "\n",
		},
		{
			name:     "invalid key",
			solver:   &fakeSolver{err: errors.New("Invalid API key")},
			wantCode: exitFailure,
			wantOut:  `{"error":"Invalid API key"}` + "\n",
		},
		{
			name:     "timeout",
			solver:   &fakeSolver{err: errors.New("Timeout")},
			wantCode: exitFailure,
			wantOut:  `{"error":"Timeout"}` + "\n",
		},
		{
			name:     "typed service error",
			solver:   &fakeSolver{err: &twocaptcha.APIError{ID: 12, Code: "ERROR_CAPTCHA_UNSOLVABLE"}},
			wantCode: exitFailure,
			wantOut:  `{"error":"ERROR_CAPTCHA_UNSOLVABLE"}` + "\n",
		},
		{
			name:     "typed timeout",
			solver:   &fakeSolver{err: &twocaptcha.TimeoutError{After: 120e9}},
			wantCode: exitFailure,
			wantOut:  `{"error":"timeout 120 exceeded"}` + "\n",
		},
		{
			name:     "empty token",
			solver:   &fakeSolver{res: &twocaptcha.Result{}},
			wantCode: exitFailure,
			wantOut:  `{"error":"empty solution token"}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := isolateEnv(t)
			r := runApp(t, tt.solver, "--config", cfgPath, "--api-key", "k")

			assert.Equal(t, tt.wantCode, r.code)
			assert.Equal(t, tt.wantOut, r.stdout)
			assert.Equal(t, 1, tt.solver.calls)
			decodePayload(t, r.stdout)
		})
	}
}

func TestRunUsesDefaults(t *testing.T) {
	cfgPath := isolateEnv(t)
	t.Setenv(envAPIKey, "env-key")
	solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}

	r := runApp(t, solver, "--config", cfgPath)

	require.Equal(t, exitSuccess, r.code)
	assert.Equal(t, defaultSiteKey, solver.req.SiteKey)
	assert.Equal(t, defaultPageURL, solver.req.PageURL)
	assert.Nil(t, solver.req.Proxy)
	assert.Equal(t, "env-key", r.cfg.APIKey)
	assert.Equal(t, twocaptcha.DefaultBaseURL, r.cfg.APIBase)
	assert.Equal(t, defaultPollingInterval, r.cfg.PollingInterval)
	assert.Equal(t, defaultTimeout, r.cfg.Timeout)
}

func TestRunMissingAPIKey(t *testing.T) {
	cfgPath := isolateEnv(t)
	solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}

	r := runApp(t, solver, "--config", cfgPath)

	assert.Equal(t, exitFailure, r.code)
	assert.Equal(t, `{"error":"api key is required"}`+"\n", r.stdout)
	assert.Equal(t, 0, r.created)
	assert.Equal(t, 0, solver.calls)
}

func TestRunFlagsOverrideConfigFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api_key": "file-key",
		"sitekey": "file-sitekey",
		"url": "https://file.example/auth",
		"action": "login",
		"timeout": 60
	}`), 0o600))
	solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}

	r := runApp(t, solver,
		"--config", path,
		"--sitekey", "flag-sitekey",
		"--proxy", "u:p@127.0.0.1:1080",
		"--user-agent", "agent",
	)

	require.Equal(t, exitSuccess, r.code, r.stdout)
	assert.Equal(t, "file-key", r.cfg.APIKey)
	assert.Equal(t, 60, r.cfg.Timeout)
	assert.Equal(t, "flag-sitekey", solver.req.SiteKey)
	assert.Equal(t, "https://file.example/auth", solver.req.PageURL)
	assert.Equal(t, "login", solver.req.Action)
	assert.Equal(t, "agent", solver.req.UserAgent)
	require.NotNil(t, solver.req.Proxy)
	assert.Equal(t, twocaptcha.Proxy{Type: "socks5", Address: "127.0.0.1", Port: 1080, Login: "u", Password: "p"}, *solver.req.Proxy)
}

func TestRunEnvironmentFlags(t *testing.T) {
	cfgPath := isolateEnv(t)
	t.Setenv("TURNSTILE_API_KEY", "turnstile-env-key")
	t.Setenv("TURNSTILE_URL", "https://env.example/")
	solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}

	r := runApp(t, solver, "--config", cfgPath)

	require.Equal(t, exitSuccess, r.code, r.stdout)
	assert.Equal(t, "turnstile-env-key", r.cfg.APIKey)
	assert.Equal(t, "https://env.example/", solver.req.PageURL)
}

func TestRunAPIKeyPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		apiKeyEnv  string
		prefixEnv  string
		flag       string
		wantAPIKey string
	}{
		{name: "file only", file: "file-key", wantAPIKey: "file-key"},
		{name: "APIKEY_2CAPTCHA over file", file: "file-key", apiKeyEnv: "env-key", wantAPIKey: "env-key"},
		{name: "TURNSTILE_API_KEY over APIKEY_2CAPTCHA", file: "file-key", apiKeyEnv: "env-key", prefixEnv: "prefixed-key", wantAPIKey: "prefixed-key"},
		{name: "flag over everything", file: "file-key", apiKeyEnv: "env-key", prefixEnv: "prefixed-key", flag: "flag-key", wantAPIKey: "flag-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(`{"api_key": "`+tt.file+`"}`), 0o600))
			t.Setenv(envAPIKey, tt.apiKeyEnv)
			t.Setenv("TURNSTILE_API_KEY", tt.prefixEnv)

			args := []string{"--config", path}
			if tt.flag != "" {
				args = append(args, "--api-key", tt.flag)
			}
			r := runApp(t, &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}, args...)

			require.Equal(t, exitSuccess, r.code, r.stdout)
			assert.Equal(t, tt.wantAPIKey, r.cfg.APIKey)
		})
	}
}

func TestRunSecondsOverrides(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		env         map[string]string
		wantErr     string
		wantTimeout int
		wantPoll    int
	}{
		{name: "defaults", wantTimeout: defaultTimeout, wantPoll: defaultPollingInterval},
		{name: "flags", args: []string{"--timeout", "30", "--polling-interval", "3"}, wantTimeout: 30, wantPoll: 3},
		{name: "env", env: map[string]string{"TURNSTILE_TIMEOUT": "45"}, wantTimeout: 45, wantPoll: defaultPollingInterval},
		{name: "zero timeout flag", args: []string{"--timeout", "0"}, wantErr: "--timeout must be > 0"},
		{name: "negative polling flag", args: []string{"--polling-interval", "-5"}, wantErr: "--polling-interval must be > 0"},
		{name: "zero timeout env", env: map[string]string{"TURNSTILE_TIMEOUT": "0"}, wantErr: "--timeout must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}
			args := append([]string{"--config", cfgPath, "--api-key", "k"}, tt.args...)

			r := runApp(t, solver, args...)

			if tt.wantErr != "" {
				assert.Equal(t, exitFailure, r.code)
				assert.Equal(t, tt.wantErr, decodePayload(t, r.stdout)["error"])
				assert.Equal(t, 0, solver.calls)
				return
			}
			require.Equal(t, exitSuccess, r.code, r.stdout)
			assert.Equal(t, tt.wantTimeout, r.cfg.Timeout)
			assert.Equal(t, tt.wantPoll, r.cfg.PollingInterval)
		})
	}
}

func TestRunInvalidProxy(t *testing.T) {
	cfgPath := isolateEnv(t)
	solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}

	r := runApp(t, solver, "--config", cfgPath, "--api-key", "k", "--proxy", "ftp://1.2.3.4:21")

	assert.Equal(t, exitFailure, r.code)
	assert.Contains(t, decodePayload(t, r.stdout), "error")
	assert.Equal(t, 0, solver.calls)
}

func TestRunBadInvocation(t *testing.T) {
	cfgPath := isolateEnv(t)

	for _, args := range [][]string{
		{"--config", cfgPath, "--no-such-flag"},
		{"--config", cfgPath, "--api-key", "k", "extra"},
		{"--config", cfgPath, "--api-key", "k", "--log-level", "loud"},
	} {
		solver := &fakeSolver{res: &twocaptcha.Result{Code: "tok"}}
		r := runApp(t, solver, args...)

		assert.Equal(t, exitFailure, r.code, "args=%v", args)
		assert.Contains(t, decodePayload(t, r.stdout), "error")
		assert.Equal(t, 0, solver.calls)
	}
}

func TestRunHelp(t *testing.T) {
	isolateEnv(t)
	solver := &fakeSolver{}

	r := runApp(t, solver, "-h")

	assert.Equal(t, exitSuccess, r.code)
	assert.Empty(t, r.stdout)
	assert.Contains(t, r.stderr, "Usage:")
	assert.Equal(t, 0, solver.calls)
}

func TestRunAgainstFakeService(t *testing.T) {
	cfgPath := isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/createTask":
			_, _ = w.Write([]byte(`{"errorId":0,"taskId":7}`))
		case "/getTaskResult":
			_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"token":"live-token"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	a := &app{
		log:       newLogger(&bytes.Buffer{}),
		stdout:    &stdout,
		stderr:    &bytes.Buffer{},
		newSolver: newTwoCaptchaSolver,
	}
	code := a.run(context.Background(), []string{
		"--config", cfgPath,
		"--api-key", "k",
		"--api-base", srv.URL,
		"--polling-interval", "1",
	})

	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, `{"code":"live-token"}`+"\n", stdout.String())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "abcd****", maskKey("abcdef123456"))
	assert.Equal(t, "****", maskKey("abc"))
}
