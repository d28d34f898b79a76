// Package main is the bridge-relay entry point (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/psds-microservice/bridge-relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
