// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Command settle triggers an on-demand click settlement run on a running
// marketd node, the manual counterpart of the daily schedule.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

var (
	apiURL  = flag.String("api", "http://localhost:8080", "marketd API base URL")
	timeout = flag.Duration("timeout", 30*time.Second, "Request timeout")
)

func main() {
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	resp, err := client.Post(*apiURL+"/api/v1/settle", "application/json", nil)
	if err != nil {
		fmt.Printf("Settlement trigger failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		fmt.Printf("Settlement trigger rejected: %s\n", resp.Status)
		os.Exit(1)
	}

	fmt.Println("Settlement triggered")
}
