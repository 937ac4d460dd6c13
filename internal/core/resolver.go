package core

import (
	"net"
	"strconv"
	"strings"
)

// Endpoint is a dialable daemon address.
type Endpoint struct {
	Network string
	Address string
}

// Resolver maps CLI configuration onto endpoints and URI aliases.
type Resolver struct {
	Config Config
}

// Endpoint prefers the Unix socket when one is configured.
func (r Resolver) Endpoint() (Endpoint, error) {
	if r.Config.Socket != "" {
		return Endpoint{Network: "unix", Address: r.Config.Socket}, nil
	}
	if r.Config.Port <= 0 || r.Config.Port > 65535 {
		return Endpoint{}, &CLIError{Code: ExitUsage, Msg: "invalid port " + strconv.Itoa(r.Config.Port)}
	}
	host := r.Config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return Endpoint{Network: "tcp", Address: net.JoinHostPort(host, strconv.Itoa(r.Config.Port))}, nil
}

// ResolveURI expands "@alias" and "@alias/rest" using the configured
// aliases. Other arguments are returned unchanged.
func (r Resolver) ResolveURI(arg string) (string, error) {
	name, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return arg, nil
	}
	name, rest, _ := strings.Cut(name, "/")
	target, ok := r.Config.Aliases[name]
	if !ok {
		return "", &CLIError{Code: ExitUsage, Msg: "unknown alias " + arg}
	}
	if rest != "" {
		return strings.TrimSuffix(target, "/") + "/" + rest, nil
	}
	return target, nil
}

// ResolveURIs resolves every argument with ResolveURI.
func (r Resolver) ResolveURIs(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		uri, err := r.ResolveURI(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	return out, nil
}
