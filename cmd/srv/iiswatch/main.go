package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/core-tools/hsu-iiswatch/pkg/monitor"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"Configuration file path (YAML or JSON)" required:"true"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
	LogLevel    string `long:"log-level" description:"Override the configured log level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	LogFile     string `long:"log-file" description:"Override the configured rotating log file"`
	Listen      string `long:"listen" description:"Override the control API listen address"`
	NoWatch     bool   `long:"no-watch" description:"Do not reload the configuration file on change"`
	Validate    bool   `long:"validate" description:"Validate the configuration file, print a summary and exit"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		summary, err := monitor.ValidateConfigFile(opts.Config)
		if err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(out))
		return
	}

	err = monitor.Run(monitor.RunOptions{
		ConfigFile:  opts.Config,
		RunDuration: opts.RunDuration,
		LogLevel:    opts.LogLevel,
		LogFile:     opts.LogFile,
		Listen:      opts.Listen,
		NoWatch:     opts.NoWatch,
	})
	if err != nil {
		fmt.Printf("Failed to run: %v\n", err)
		os.Exit(1)
	}
}
