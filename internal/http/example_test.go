package http_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	httpserver "github.com/fyrsmithlabs/devbrain/internal/http"
	"github.com/fyrsmithlabs/devbrain/internal/store"
	"go.uber.org/zap"
)

// ExampleServer demonstrates how to serve a knowledge base.
func ExampleServer() {
	dir, err := os.MkdirTemp("", "devbrain-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	logger := zap.NewNop()

	kb, err := store.New(filepath.Join(dir, "brain.db"), logger)
	if err != nil {
		panic(err)
	}
	defer kb.Close()

	server, err := httpserver.NewServer(kb, nil, nil, logger, &httpserver.Config{
		Host: "localhost",
		Port: 0,
	})
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Debug("server stopped", zap.Error(err))
		}
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
