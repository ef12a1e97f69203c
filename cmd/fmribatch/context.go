package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/surveybott/fmribatch/internal/config"
	"github.com/surveybott/fmribatch/internal/ledger"
	"github.com/surveybott/fmribatch/internal/logging"
	"github.com/surveybott/fmribatch/internal/models"
)

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "~/.config/fmribatch/batch.yaml"

type commandContext struct {
	configFlag string
	logLevel   string
	logFormat  string

	env config.Env

	configOnce sync.Once
	config     models.BatchConfig
	configErr  error

	closeLog func() error
}

func newCommandContext() *commandContext {
	return &commandContext{env: config.OSEnv()}
}

// ensureConfig loads the batch configuration once. Paths come back expanded;
// validation is left to the commands that need a complete configuration.
func (c *commandContext) ensureConfig() (models.BatchConfig, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.configFlag)
		explicit := path != ""
		if !explicit {
			path = c.env.ExpandPath(defaultConfigPath)
		}

		cfg := config.DefaultBatchConfig()
		if _, err := os.Stat(path); explicit || err == nil {
			loaded, err := config.LoadBatchConfig(c.env.ExpandPath(path))
			if err != nil {
				c.configErr = err
				return
			}
			cfg = loaded
		}
		config.ResolveBatchPaths(&cfg, c.env)
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) setupLogging(w io.Writer) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	format := cfg.LogFormat
	if c.logFormat != "" {
		format = c.logFormat
	}
	logger, closeFn, err := logging.New(logging.Options{
		Level:  level,
		Format: format,
		Writer: w,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	c.closeLog = closeFn
	return nil
}

func (c *commandContext) close() error {
	if c.closeLog == nil {
		return nil
	}
	return c.closeLog()
}

// withLedger opens the configured ledger for the duration of fn.
func (c *commandContext) withLedger(fn func(*ledger.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.LedgerPath == "" {
		return errors.New("ledger_path is not configured")
	}
	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}

// absDir expands ~ and makes p absolute, failing when it is not a directory.
func (c *commandContext) absDir(p string) (string, error) {
	p = c.env.ExpandPath(p)
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s does not exist", abs)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}
