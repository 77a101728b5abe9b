// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("Malar Market Ledger - Offline-First Sync Engine")
	fmt.Println("===============================================")
	fmt.Println()
	fmt.Println("This module keeps a ledger client working while the network is down:")
	fmt.Println("reads are served from a local durable cache, writes are queued and")
	fmt.Println("replayed exactly once against the server when connectivity returns.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("1. offstore/")
	fmt.Println("   SQLite-backed durable store: named collections, composite-key")
	fmt.Println("   reference cache (farmer-product associations), FIFO mutation queue")
	fmt.Println()
	fmt.Println("2. offsync/")
	fmt.Println("   Network interceptor (Network-First, Cache-First, offline shell,")
	fmt.Println("   Stale-While-Revalidate) and the sync coordinator that drains the")
	fmt.Println("   mutation queue on connectivity-restore and periodic triggers")
	fmt.Println()
	fmt.Println("3. ledgersrv/")
	fmt.Println("   Reference Postgres backend the engine replays against")
	fmt.Println("   Run: cd cmd/ledger-server && go run .")
	fmt.Println()
}
