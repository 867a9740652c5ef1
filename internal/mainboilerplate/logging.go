package mainboilerplate

import (
	log "github.com/sirupsen/logrus"
)

// LogConfig selects the logrus level and formatter of a tool.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"warn" choice:"info" choice:"debug" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

func (cfg LogConfig) formatter() log.Formatter {
	switch cfg.Format {
	case "json":
		return &log.JSONFormatter{}
	case "color":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true}
	default:
		return &log.TextFormatter{FullTimestamp: true}
	}
}

// InitLog applies cfg to the standard logger. Native library paths and
// engine error codes are logged at debug level.
func InitLog(cfg LogConfig) {
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	}
	log.SetFormatter(cfg.formatter())
	log.SetLevel(lvl)
	log.WithFields(log.Fields{"level": lvl, "format": cfg.Format}).Debug("logging configured")
}
