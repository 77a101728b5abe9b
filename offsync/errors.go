// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

// Package offsync is the network half of the Malar Market Ledger offline
// engine: a strategy-based request interceptor that keeps reads working
// while the backend is unreachable, and a sync coordinator that drains the
// pending-mutation queue once connectivity returns.
package offsync

import "errors"

// ErrNetworkUnreachable reports that a request could not reach the server.
// The read path recovers from it by serving cached data; the write path by
// queuing the mutation for later replay.
var ErrNetworkUnreachable = errors.New("network unreachable")

// ErrServerRejected reports that the server responded with a non-success
// status. For reads this is final for the request; for queued-write replay
// the mutation stays queued and is retried on the next pass.
var ErrServerRejected = errors.New("server rejected request")
