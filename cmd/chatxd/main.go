package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/vpolkhovsky/chatx/internal/daemon"
)

func main() {
	serverFlag := flag.String("server", "", "gateway base URL (overrides config)")
	dataDirFlag := flag.String("data-dir", "", "data directory (default ~/.chatx)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{
			ServerURL: *serverFlag,
			DataDir:   *dataDirFlag,
		}),
	)

	app.Run()
}
