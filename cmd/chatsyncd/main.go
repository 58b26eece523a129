package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/hireme/chatsync/internal/daemon"
	"github.com/hireme/chatsync/internal/logging"
	"github.com/hireme/chatsync/internal/session"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	levelFlag := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ProfileName: profile,
			LogLevel:    logging.ParseLevel(*levelFlag),
		}),
	)

	app.Run()
}
