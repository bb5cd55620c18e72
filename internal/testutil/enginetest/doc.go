// SPDX-License-Identifier: MPL-2.0

// Package enginetest provides an in-memory container.Engine for tests.
//
// Exec sessions running "/bin/sh -c <script>" are interpreted in process with
// mvdan.cc/sh. Only shell builtins and sleep are available; every other
// command fails with exit code 127, as it would in an image without it.
// Each container gets its own scratch directory as working directory.
//
// Usage:
//
//	engine := enginetest.New(
//	    enginetest.WithImages("ubuntu:latest"),
//	    enginetest.FailPull("registry.invalid/img:1", errors.New("no such host")),
//	)
//	defer engine.Close()
package enginetest
