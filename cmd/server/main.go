package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/app"
)

func main() {
	var opts app.Options
	pflag.StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	pflag.StringVar(&opts.Addr, "addr", "", "listen address, overrides the configuration file")
	pflag.StringVar(&opts.NetworkFile, "network", "", "road network file served at /network")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, opts); err != nil {
		log.Fatalf("%v", err)
	}
}
