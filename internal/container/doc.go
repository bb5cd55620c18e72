// SPDX-License-Identifier: MPL-2.0

// Package container provides a narrow abstraction over container engines.
//
// The Engine interface covers exactly what the test orchestrator consumes:
// image inventory and pulls, container create/start/inspect/remove, exec
// sessions and container logs. Two implementations are provided:
//
//   - DockerEngine talks to the Docker Engine API through the official client.
//   - CLIEngine shells out to the docker or podman binary.
//
// Both return exec and log output in the Docker stdcopy multiplexed frame
// format, so consumers demultiplex every stream the same way.
//
// Engine selection uses NewEngine(ctx, EngineType) with automatic fallback when
// the preferred engine is unavailable.
package container
