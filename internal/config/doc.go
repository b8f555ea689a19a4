// Package config provides configuration structures and utilities for mandala.
// It defines crawl limits, fetch settings, report preferences and the
// per-host settings read from the .mandala configuration file.
package config
