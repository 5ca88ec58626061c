package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flood_mesh/internal/config"
	"flood_mesh/internal/node"
	"flood_mesh/internal/peer"
	"flood_mesh/internal/utils"

	"go.uber.org/zap"
)

func main() {
	var basePath string
	flag.StringVar(&basePath, "prefix", "", "Config file base path")
	flag.Parse()

	// Load MainConfig
	cfg, err := config.LoadMainConfig(basePath)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	logs := utils.NewManager(cfg.LogPath, cfg.LogStdout, cfg.LogLevel)
	defer logs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := node.NewRegistry[string]()
	for _, nc := range cfg.Nodes {
		logger := logs.Logger(nc.Name)
		n, err := node.New[string](nc, logger)
		if err != nil {
			log.Fatalf("Start node %s failed: %v", nc.Name, err)
		}
		h := n.Start()
		if err := registry.Register(nc.Name, h); err != nil {
			log.Fatalf("Register node %s failed: %v", nc.Name, err)
		}
		go printDeliveries(nc.Name, h)

		dialer := dialerFor(nc.Dial, logger)
		for _, addr := range nc.Peers {
			go func(addr string) {
				if err := h.Connect(ctx, addr, dialer); err != nil {
					logger.Error("connect failed", zap.String("peer", addr), zap.Error(err))
				}
			}(addr)
		}
	}
	log.Printf("Started %d nodes: %s", len(cfg.Nodes), strings.Join(registry.Names(), ", "))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	input := make(chan string)
	go readLines(os.Stdin, input)

loop:
	for {
		select {
		case <-stop:
			log.Println("Stopping nodes...")
			break loop
		case line, ok := <-input:
			if !ok {
				log.Println("Input closed, stopping nodes...")
				break loop
			}
			handleLine(ctx, registry, cfg.Nodes[0].Name, line)
		}
	}

	cancel()
	termCtx, termCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer termCancel()
	if err := registry.TerminateAll(termCtx); err != nil {
		log.Printf("Terminate failed: %v", err)
	}
	log.Println("Nodes stopped")
}

func dialerFor(dc config.DialConfig, logger *zap.Logger) *peer.Dialer {
	return &peer.Dialer{
		Attempts:       dc.Attempts,
		InitialBackoff: dc.InitialBackoff,
		MaxBackoff:     dc.MaxBackoff,
		Factor:         dc.Factor,
		Timeout:        dc.Timeout,
		Logger:         logger,
	}
}

func printDeliveries(name string, h *node.Handle[string]) {
	for d := range h.Deliveries() {
		fmt.Printf("[%s] %s: %s\n", name, d.Origin, d.Message)
	}
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// handleLine understands "<node> <message>", "/status", or a bare message
// broadcast from the first configured node.
func handleLine(ctx context.Context, registry *node.Registry[string], fallback, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if line == "/status" {
		snaps := registry.Snapshots()
		for _, name := range registry.Names() {
			s := snaps[name]
			fmt.Printf("%s %s peers=%d delivered=%d forwarded=%d duplicates=%d evictions=%d\n",
				name, s.Addr, len(s.Peers), s.Counters.Delivered, s.Counters.Forwarded, s.Counters.Duplicates, s.Counters.Evictions)
		}
		return
	}

	name, msg := fallback, line
	if first, rest, found := strings.Cut(line, " "); found {
		if _, ok := registry.Get(first); ok {
			name, msg = first, rest
		}
	}
	h, _ := registry.Get(name)
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Broadcast(sendCtx, msg); err != nil {
		log.Printf("Broadcast from %s failed: %v", name, err)
	}
}
