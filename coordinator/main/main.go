// Runs the marker coordination sidecar for one table. Writers configured
// with the coordinated marker type point their coordinator endpoint here.
package main

import (
	"context"
	"flag"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/coordinator"
)

func main() {
	var (
		listenAddr    = flag.String("listen", ":8970", "listen address")
		basePath      = flag.String("base-path", "", "table base path (required)")
		batchInterval = flag.Duration("batch-interval", coordinator.DefaultBatchInterval, "marker batch flush interval")
	)
	flag.Parse()
	if *basePath == "" {
		fmt.Fprintln(os.Stderr, "missing required -base-path")
		flag.Usage()
		os.Exit(2)
	}

	lakemark.ConfigureLogging()

	svc := coordinator.NewService(coordinator.Options{
		BasePath:      *basePath,
		BatchInterval: *batchInterval,
	})
	svc.Start()

	router := gin.Default()
	svc.Register(router)

	go func() {
		if err := router.Run(*listenAddr); err != nil {
			log.Error(fmt.Sprintf("marker coordination service stopped, details: %v", err))
			os.Exit(1)
		}
	}()
	log.Info(fmt.Sprintf("marker coordination service listening on %s for table %s", *listenAddr, *basePath))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Stop(ctx)
	log.Info("marker coordination service shut down, outstanding batches flushed")
}
