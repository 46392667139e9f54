// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Buildjail-tunnel is the egress proxy of the build topology. It runs
// in the proxy container, which sits on both docker networks, and
// relays HTTP CONNECT tunnels from the build container (internal
// network only) to the outside. It never inspects tunnelled bytes.
//
// Settings come from the tunnel section of the config file when one is
// given; flags override individual values.
package main
