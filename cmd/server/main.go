package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fateinfer/internal/app"
)

func main() {
	var cfg app.Config
	fs := flag.NewFlagSet("fate-inference-server", flag.ContinueOnError)
	fs.IntVar(&cfg.ListenPort, "port", 7777, "listen port for STATE/DONE packets")
	sendPort := fs.Int("send-port", 7778, "reply port ACTION packets are sent to")
	actionPort := fs.Int("action-port", 0, "alias for --send-port")
	fs.StringVar(&cfg.Device, "device", "cpu", "inference device: cpu|cuda")
	fs.StringVar(&cfg.ModelDir, "model-dir", "./models", "directory containing model_latest.pt")
	fs.StringVar(&cfg.RolloutDir, "rollout-dir", "./rollouts", "directory rollout containers are written to")
	fs.IntVar(&cfg.RolloutSize, "rollout-size", 4096, "minimum pending transitions before a rollout dump")
	reloadSeconds := fs.Int("reload-interval", 5, "model reload check interval, in seconds")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", ":8081", "address for the health/diagnostics HTTP endpoint")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fate-inference-server [options]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg.SendPort = *sendPort
	if *actionPort != 0 {
		cfg.SendPort = *actionPort
	}
	cfg.ReloadInterval = time.Duration(*reloadSeconds) * time.Second

	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("%v", err)
	}
}
