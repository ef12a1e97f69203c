package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Env reads process environment variables. It is consulted once at the CLI
// boundary; core packages take resolved values only.
type Env struct {
	Lookup func(key string) (string, bool)
}

// OSEnv returns an Env backed by the process environment.
func OSEnv() Env {
	return Env{Lookup: os.LookupEnv}
}

// Home returns $HOME, or "" when unset.
func (e Env) Home() string {
	if e.Lookup == nil {
		return ""
	}
	v, _ := e.Lookup("HOME")
	return v
}

// ExpandPath replaces a leading ~ with $HOME.
func (e Env) ExpandPath(p string) string {
	home := e.Home()
	if home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return p
}

// AbsPath makes p absolute against the working directory. An empty path
// stays empty.
func AbsPath(p string) string {
	if p == "" {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// DefaultImage is where the fmriprep image is conventionally kept.
func (e Env) DefaultImage() string {
	home := e.Home()
	if home == "" {
		return ""
	}
	return filepath.Join(home, "local", "simg", "fmriprep-latest.simg")
}
