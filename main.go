package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"portfoliochat/internal/api"
	"portfoliochat/internal/config"
	"portfoliochat/internal/proxy"
	"portfoliochat/internal/service/conversation"
	"portfoliochat/internal/service/relay"
	"portfoliochat/internal/storage"
	"portfoliochat/internal/web"
	"portfoliochat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfgPath := os.Getenv("PORTFOLIOCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log.Printf("history backend: %s\n", cfg.History.Backend)
	store, closeStore, err := storage.OpenHistoryStore(cfg)
	if err != nil {
		log.Fatalf("open history store: %v", err)
	}
	defer closeStore()

	fwd, err := proxy.NewForwarder(cfg.UpstreamURL(), time.Duration(cfg.Upstream.Timeout)*time.Second)
	if err != nil {
		log.Fatalf("init proxy: %v", err)
	}
	log.Printf("proxying chat requests to %s", fwd.Target())

	addr := cfg.BasicConfig.ServerAddress
	endpoint := cfg.BasicConfig.ProxyEndpoint
	if endpoint == "" {
		endpoint = localEndpoint(addr)
	}
	client, err := relay.NewClient(endpoint, &http.Client{})
	if err != nil {
		log.Fatalf("init relay client: %v", err)
	}
	log.Printf("relaying chat messages through %s", client.Endpoint())

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	})
	defer dispatcher.Close()

	conv := conversation.NewManager(context.Background(), store, client, dispatcher)

	pages, err := web.NewPages(conv, cfg.Site)
	if err != nil {
		log.Fatalf("init pages: %v", err)
	}
	handlers := api.NewHandler(conv, fwd, proxy.RateLimit(cfg.BasicConfig.RateLimit, cfg.BasicConfig.RateBurst))

	router := gin.Default()
	handlers.RegisterRoutes(router)
	pages.RegisterRoutes(router)

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// localEndpoint points the relay client at this process's own proxy route.
func localEndpoint(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/api/chat"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/chat"
}
