package main

import (
	"log"

	"github.com/austindbirch/capi_relay/cmd/capirelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
