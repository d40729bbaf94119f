// Package main implements turnstile-solver, a CLI tool that asks 2captcha to
// solve a single Cloudflare Turnstile challenge.
//
// # Output
//
// Exactly one JSON line is written to stdout:
//
//	{"code":"<token>"}     exit status 0
//	{"error":"<message>"}  exit status 1
//
// Logs go to stderr.
//
// # Usage
//
//	turnstile-solver [--config PATH] [--api-key KEY] [--sitekey KEY] [--url URL] [--proxy PROXY]
//
// # Configuration
//
// Settings are layered from built-in defaults, an optional config.json,
// environment variables (TURNSTILE_<FLAG>, APIKEY_2CAPTCHA, and a .env file)
// and flags, lowest first. The API key has no default.
package main
