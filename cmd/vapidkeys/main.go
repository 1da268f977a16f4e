// Command vapidkeys prints a fresh VAPID key pair in .env format.
package main

import (
	"fmt"
	"os"

	"github.com/engagepush/backend/internal/webpush"
)

func main() {
	privateKey, publicKey, err := webpush.GenerateKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate VAPID keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
}
