package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/daemon"
	"github.com/matheus3301/shopchat/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	userFlag := flag.String("user", "", "local user id (overrides config user_id)")
	brokerFlag := flag.String("broker", "", "broker URL (overrides config broker.url; \"none\" for local only)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *userFlag != "" {
		cfg.UserID = *userFlag
	}
	if *brokerFlag != "" {
		cfg.Broker.URL = *brokerFlag
	}

	name := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "error: no user id; set user_id in the config or pass --user")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Config: cfg}),
	)

	app.Run()
}
