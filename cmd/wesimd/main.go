package main

import (
	"flag"

	"go.uber.org/fx"

	"wesim/internal/daemon"
	"wesim/internal/home"
)

func main() {
	dataFlag := flag.String("data", "", "data directory (default ~/.wesim)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dataDir := *dataFlag
	if dataDir == "" {
		dataDir = home.BaseDir()
	}

	app := fx.New(
		daemon.Module(daemon.Params{DataDir: dataDir, ListenAddr: *listenFlag}),
	)

	app.Run()
}
