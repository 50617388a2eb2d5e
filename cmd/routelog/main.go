package main

import (
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/saylorsolutions/routelog/pkg/config"
	"github.com/saylorsolutions/routelog/plugin"
	"github.com/saylorsolutions/routelog/plugin/file"
	"github.com/saylorsolutions/routelog/plugin/network"
	"github.com/saylorsolutions/routelog/plugin/process"
	"github.com/saylorsolutions/routelog/plugin/stdstream"
	"github.com/saylorsolutions/routelog/plugin/store"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func plugins() []plugin.Plugin {
	return []plugin.Plugin{
		file.Plugin(),
		stdstream.Plugin(),
		process.Plugin(),
		network.Plugin(),
		store.Plugin(),
	}
}

// newLogger writes to out, which should not be used by any destination.
// In auto format, JSON is written unless out is a terminal.
func newLogger(cfg config.LoggingConfig, out *os.File) hclog.Logger {
	useJSON := cfg.Format == config.FormatJSON
	if cfg.Format == config.FormatAuto {
		useJSON = !isTerminal(out)
	}
	color := hclog.ColorOff
	if !useJSON {
		color = hclog.AutoColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "routelog",
		Level:      hclog.LevelFromString(cfg.Level),
		Output:     out,
		JSONFormat: useJSON,
		Color:      color,
	})
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
