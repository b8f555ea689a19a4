// Package fetch retrieves Mantela descriptor documents over HTTP.
//
// A Fetcher performs exactly one GET per call and never retries. Every
// failure is reported as a *FetchError so callers can decide, with
// FetchError.Temporary, whether another attempt is worthwhile.
//
// Requests can be routed through a SOCKS5 proxy and tuned per host using
// the site configuration loaded by package config.
package fetch
