// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology drives the fixed two-network docker layout a build
// runs in:
//
//	          external network
//	                 |
//	          +------+------+
//	          |    proxy    |  alias "proxy" on internal
//	          +------+------+
//	                 |
//	  internal network (--internal, no route out)
//	                 |
//	          +------+------+
//	          |    build    |
//	          +-------------+
//
// The build container joins only the internal network, so the tunnel
// running in the proxy container is its sole path to the outside.
//
// [Docker] wraps the docker CLI through a [runner.Runner]; every
// operation is one fixed argv. [Plans] sequences those operations into
// the four plans the mediator exposes: clean, buildImages,
// createNetworks and runBuild. A plan stops at the first step that
// exits nonzero and reports it as a [*StepError].
package topology
