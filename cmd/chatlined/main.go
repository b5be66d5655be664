package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/config"
	"github.com/ovasylenko/chatline/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", "", "path to chatline.toml (optional)")
	serverFlag := flag.String("server", "", "websocket URL (overrides config)")
	apiFlag := flag.String("api", "", "REST base URL (overrides config)")
	tokenFlag := flag.String("token", "", "JWT access token (or CHATLINE_TOKEN)")
	flag.Parse()

	cfg, err := resolveConfig(*configFlag, *serverFlag, *apiFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := *tokenFlag
	if token == "" {
		token = os.Getenv("CHATLINE_TOKEN")
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: no access token (use -token or CHATLINE_TOKEN)")
		os.Exit(1)
	}

	app := fx.New(
		session.Module(session.Params{Config: cfg, Token: token}),
		fx.Invoke(logBusTraffic),
	)

	app.Run()
}

func resolveConfig(path, server, apiBase string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if server != "" {
		cfg.ServerURL = server
	}
	if apiBase != "" {
		cfg.APIURL = apiBase
	}
	if cfg.ServerURL == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("server and api URLs are required (flags or config file)")
	}
	return cfg, nil
}

// logBusTraffic mirrors all bus events into the log so a session can be
// reconstructed from the log file alone.
func logBusTraffic(b *bus.Bus, logger *zap.Logger) {
	ch, _ := b.Subscribe("", 256)
	go func() {
		for evt := range ch {
			logger.Debug("event",
				zap.String("kind", evt.Kind),
				zap.Time("at", evt.Timestamp),
			)
		}
	}()
}
