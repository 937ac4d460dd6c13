package core

import "time"

// Config is runtime configuration for the CLI.
type Config struct {
	Host    string
	Port    int
	Socket  string
	Timeout time.Duration
	Aliases map[string]string
}
