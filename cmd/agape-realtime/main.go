package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"

	realtime "github.com/agape-platform/realtime"
	"github.com/agape-platform/realtime/auth"
	"github.com/agape-platform/realtime/live"
	"github.com/agape-platform/realtime/live/handler"
	"github.com/agape-platform/realtime/pubsub"
	"github.com/agape-platform/realtime/state"
)

const version = "0.99.1"

var (
	flagPort = flag.Int("port", 8008, "Port to listen on")
	flagDB   = flag.String("db", "", "Postgres connection string, overrides AGAPE_DB")
)

func main() {
	fmt.Printf("agape-realtime %s\n", version)
	flag.Parse()

	postgresURI := *flagDB
	if postgresURI == "" {
		postgresURI = os.Getenv("AGAPE_DB")
	}
	if postgresURI == "" {
		fmt.Fprintln(os.Stderr, "No database specified: set -db or AGAPE_DB")
		os.Exit(1)
	}
	secret := os.Getenv("AGAPE_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "AGAPE_SECRET must be set to the platform signing secret")
		os.Exit(1)
	}
	hookSecret := os.Getenv("AGAPE_HOOK_SECRET")
	if hookSecret == "" {
		fmt.Fprintln(os.Stderr, "AGAPE_HOOK_SECRET must be set to the internal hook secret")
		os.Exit(1)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     dsn,
			Release: "agape-realtime@" + version,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialise sentry: %s\n", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	store := state.NewStorage(postgresURI)
	defer store.Teardown()
	if err := state.Migrate(store.DB); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %s\n", err)
		os.Exit(1)
	}

	hub := live.NewHub(store, true)
	defer hub.Teardown()

	bus := pubsub.NewPubSub(100)
	notifier := pubsub.NewPromNotifier(bus, "hooks")
	defer notifier.Close()
	hookSub := pubsub.NewHookSub(bus, handler.NewHookReceiver(hub))
	defer hookSub.Teardown()
	go func() {
		if err := hookSub.Listen(); err != nil {
			fmt.Fprintf(os.Stderr, "hook listener died: %s\n", err)
			sentry.CaptureException(err)
			os.Exit(1)
		}
	}()

	ws := handler.NewLiveHandler(hub, auth.NewDecoder([]byte(secret)))
	realtime.RunRealtimeServer(ws, fmt.Sprintf(":%d", *flagPort), notifier, hookSecret)
}
