/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reconciliation engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Load the matching profile (JSON file or defaults)
  4. Wire matcher, cascade engine, applier, service
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: recon.db)
            Use ":memory:" for an in-memory database
  -profile  Path to a JSON matching profile (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/recon.db"

  # Run with a custom matching profile
  ./server -profile="./profiles/acme.json"

ENVIRONMENT:
  No environment variables currently. All config via flags.

SEE ALSO:
  - api/server.go: Router configuration
  - recon/service.go: Run orchestration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/recon-engine/api"
	"github.com/warp/recon-engine/factory"
	"github.com/warp/recon-engine/generic"
	"github.com/warp/recon-engine/recon"
	"github.com/warp/recon-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "recon.db", "SQLite database path")
	profilePath := flag.String("profile", "", "JSON matching profile path (optional)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Load profile
	profileJSON := factory.DefaultProfileJSON()
	if *profilePath != "" {
		data, err := os.ReadFile(*profilePath)
		if err != nil {
			log.Fatalf("Failed to read profile: %v", err)
		}
		profileJSON = string(data)
	}
	matcherCfg, cascadeCfg, err := factory.NewProfileFactory().ParseProfile(profileJSON)
	if err != nil {
		log.Fatalf("Failed to parse profile: %v", err)
	}

	// Wire the engine. One lock registry and one throttle per process.
	matcher := recon.NewMatcher(matcherCfg, recon.NewStaticRateProvider())
	engine := recon.NewCascadeEngine(matcher, cascadeCfg)
	locks := generic.NewLockRegistry()
	throttle := generic.NewQuotaThrottle(generic.DefaultThrottleConfig())
	applier := recon.NewApplier(store, locks, throttle)
	service := recon.NewService(recon.NewLoader(store), engine, applier)

	// Create router
	router := api.NewRouter(api.NewHandler(service))

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
