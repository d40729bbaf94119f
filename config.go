package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"turnstile-solver/internal/twocaptcha"
)

// Default configuration values.
const (
	defaultConfigPath      = "config.json"
	defaultSiteKey         = "0x4AAAAAAAkhmGkb2VS6MRU0"
	defaultPageURL         = "https://dashboard.teneo.pro/auth"
	defaultPollingInterval = 10  // seconds
	defaultTimeout         = 120 // seconds
)

// envAPIKey is the variable the 2captcha reference clients read the key from.
const envAPIKey = "APIKEY_2CAPTCHA"

// appConfig holds the application configuration.
type appConfig struct {
	APIKey          string `json:"api_key"`
	SiteKey         string `json:"sitekey"`
	URL             string `json:"url"`
	APIBase         string `json:"api_base"`
	Action          string `json:"action,omitempty"`
	CData           string `json:"cdata,omitempty"`
	PageData        string `json:"pagedata,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
	Proxy           string `json:"proxy,omitempty"`
	PollingInterval int    `json:"polling_interval"`
	Timeout         int    `json:"timeout"`
}

func defaultConfig() appConfig {
	return appConfig{
		SiteKey:         defaultSiteKey,
		URL:             defaultPageURL,
		APIBase:         twocaptcha.DefaultBaseURL,
		PollingInterval: defaultPollingInterval,
		Timeout:         defaultTimeout,
	}
}

// loadConfig loads configuration from the specified path. A missing file
// yields the defaults.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return appConfig{}, fmt.Errorf("stat config: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
		return appConfig{}, fmt.Errorf("load config: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return appConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// normalize trims values and restores defaults for blank or non-positive
// fields.
func (c *appConfig) normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.SiteKey = strings.TrimSpace(c.SiteKey)
	c.URL = strings.TrimSpace(c.URL)
	c.APIBase = strings.TrimSpace(c.APIBase)
	c.Proxy = strings.TrimSpace(c.Proxy)

	if c.APIBase == "" {
		c.APIBase = twocaptcha.DefaultBaseURL
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = defaultPollingInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

func (c appConfig) validate() error {
	if c.APIKey == "" {
		return errors.New("api key is required")
	}
	if c.SiteKey == "" {
		return errors.New("sitekey is required")
	}
	if c.URL == "" {
		return errors.New("url is required")
	}
	return nil
}

// turnstileRequest builds the solver request described by the config.
func (c appConfig) turnstileRequest() (twocaptcha.TurnstileRequest, error) {
	req := twocaptcha.TurnstileRequest{
		SiteKey:   c.SiteKey,
		PageURL:   c.URL,
		Action:    c.Action,
		CData:     c.CData,
		PageData:  c.PageData,
		UserAgent: c.UserAgent,
	}
	if c.Proxy != "" {
		p, err := twocaptcha.ParseProxy(c.Proxy)
		if err != nil {
			return twocaptcha.TurnstileRequest{}, err
		}
		req.Proxy = p
	}
	return req, nil
}

// maskKey hides all but the first four characters of a credential.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
