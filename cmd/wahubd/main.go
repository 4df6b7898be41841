package main

import (
	"flag"

	"github.com/matheus3301/wahub/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.wahub/config.toml)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
