// notifycheck posts one probe message to the configured chat bridge.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-connect/internal/notify"
)

func main() {
	text := flag.String("text", "connect notify probe", "message to send")
	flag.Parse()

	baseURL := os.Getenv("NOTIFY_URL")
	wsURL := os.Getenv("NOTIFY_WS_URL")
	room := os.Getenv("NOTIFY_ROOM")
	if room == "" {
		log.Fatal("NOTIFY_ROOM is required")
	}
	if baseURL == "" && wsURL == "" {
		log.Fatal("NOTIFY_URL or NOTIFY_WS_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	failed := false
	if baseURL != "" {
		client := notify.NewClient(baseURL, notify.WithTimeout(8*time.Second))
		if err := client.SendText(ctx, room, *text); err != nil {
			log.Printf("http /reply error: %v", err)
			failed = true
		} else {
			log.Printf("http /reply ok")
		}
	}
	if wsURL != "" {
		sock := notify.NewSocket(wsURL)
		if err := sock.SendText(ctx, room, *text); err != nil {
			log.Printf("ws reply error: %v", err)
			failed = true
		} else {
			log.Printf("ws reply ok")
		}
		_ = sock.Close()
	}
	if failed {
		os.Exit(1)
	}
}
