// Package app holds the process wide state the commands share: the config
// loader, the loaded settings, the central logger and the metric registry.
package app

import (
	"github.com/herrbasan/SoundApp-sub001/internal/buildinfo"
	"github.com/herrbasan/SoundApp-sub001/internal/conf"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/observability"
)

// Context is passed to every command constructor. Settings is filled by
// Init, after flags are parsed.
type Context struct {
	Loader     *conf.Loader
	Settings   *conf.Settings
	Metrics    *observability.Metrics
	ConfigPath string
	Build      *buildinfo.Context

	central *logger.CentralLogger
}

// New returns a context holding the built-in defaults
func New() *Context {
	return &Context{
		Loader:   conf.NewLoader(),
		Settings: conf.Defaults(),
		Build:    &buildinfo.Context{},
	}
}

// Init loads the settings, installs the global logger and creates the
// metric registry.
func (c *Context) Init() error {
	settings, err := c.Loader.Load(c.ConfigPath)
	if err != nil {
		return err
	}
	*c.Settings = *settings

	if settings.Debug {
		c.Settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if c.Settings.Logging.Console != nil {
			c.Settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}
	central, err := logger.NewCentralLogger(&c.Settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logger").
			Build()
	}
	logger.SetGlobal(central)
	c.central = central

	if c.Settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return errors.New(err).
				Component("app").
				Category(errors.CategoryResource).
				Context("operation", "init_metrics").
				Build()
		}
		m.EnableErrorReporting()
		c.Metrics = m
	}

	log := central.Module("app")
	if used := c.Loader.ConfigFileUsed(); used != "" {
		log.Debug("configuration loaded", logger.String("file", used))
	} else {
		log.Debug("running on built-in defaults")
	}
	log.Debug("soundcore starting",
		logger.String("version", c.Build.GetVersion()),
		logger.String("build_date", c.Build.GetBuildDate()))
	return nil
}

// Log returns the logger for a command
func (c *Context) Log(module string) logger.Logger {
	return logger.Global().Module(module)
}

// Shutdown writes the metrics textfile and closes the logger.
func (c *Context) Shutdown() error {
	var errs []error
	if c.Metrics != nil {
		if err := c.Metrics.WriteTextfile(c.Settings.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	if c.central != nil {
		if err := c.central.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
