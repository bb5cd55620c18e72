// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Known failure classes.
const (
	EngineUnavailableId Id = iota + 1
	PlaybookNotFoundId
	PlaybookInvalidId
	UnknownOSId
	ImagePullFailedId
	ContainerStartFailedId
	ConfigLoadFailedId
)

type (
	// Id identifies a catalog entry.
	Id int //nolint:revive // matches the catalog's naming

	// MarkdownMsg is the guide text.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string //nolint:revive

	// Issue is a Markdown guide for one failure class.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

var render = glamour.Render

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id } //nolint:revive

// MarkdownMsg returns the raw guide.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the guide for the terminal. stylePath is a glamour style
// name ("dark", "light", "notty") or a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		var b strings.Builder
		b.WriteString("\n\n## See also\n")
		for _, l := range i.docLinks {
			b.WriteString("- <" + string(l) + ">\n")
		}
		md += b.String()
	}
	return render(md, stylePath)
}

var issues = map[Id]*Issue{
	EngineUnavailableId: {
		id: EngineUnavailableId,
		mdMsg: `
# No container engine available!

pbtest runs every playbook inside a container and could not reach Docker or Podman.

## Things you can try:
- Start the Docker daemon, or check that ` + "`docker version`" + ` works
- Install Podman and check that ` + "`podman version`" + ` works
- Point pbtest at a remote daemon with ` + "`DOCKER_HOST`" + `
- Pick an engine explicitly:
~~~
$ pbtest test smoke --engine podman
~~~`,
		docLinks: []HttpLink{"https://docs.docker.com/get-docker/", "https://podman.io/docs/installation"},
	},
	PlaybookNotFoundId: {
		id: PlaybookNotFoundId,
		mdMsg: `
# Playbook not found!

Playbooks are directories under the runtime directory holding a ` + "`playbook.yaml`" + `.

## Things you can try:
- List installed playbooks:
~~~
$ pbtest list
~~~
- Pass the path of a playbook directory instead of a name
- Check ` + "`runtime_dir`" + ` with ` + "`pbtest config show`",
	},
	PlaybookInvalidId: {
		id: PlaybookInvalidId,
		mdMsg: `
# Invalid playbook manifest!

## A valid manifest looks like:
~~~yaml
name: smoke
automations:
  - name: setup
    content:
      env: Linux
      steps:
        - title: greet
          runner: shell
          content: echo hello
~~~

Every step needs a ` + "`title`" + `, a ` + "`runner`" + ` and POSIX shell ` + "`content`" + `.`,
	},
	UnknownOSId: {
		id: UnknownOSId,
		mdMsg: `
# Unknown target OS!

The target names no known OS alias and no image was given.

## Things you can try:
- Use one of the built-in aliases: ` + "`Linux`, `macOS`, `Windows`" + `
- Give an image directly:
~~~
$ pbtest test smoke --image debian:stable
$ pbtest test smoke --os Linux=alpine:3.20
~~~
- Declare ` + "`env`" + ` in the playbook's automations
- Add the alias under ` + "`images`" + ` in the config file or in ` + "`images.yaml`",
	},
	ImagePullFailedId: {
		id: ImagePullFailedId,
		mdMsg: `
# Image could not be pulled!

## Things you can try:
- Check the image reference for typos
- Log in to private registries with ` + "`docker login`" + ` first
- Pull the image manually to see the engine's full error:
~~~
$ docker pull <image>
~~~`,
	},
	ContainerStartFailedId: {
		id: ContainerStartFailedId,
		mdMsg: `
# Container failed to start!

## Things you can try:
- A container with the same name is still around: remove it with ` + "`docker rm -f <name>`" + `
- Images such as docker-osx need ` + "`--privileged`" + ` and KVM on the host
- Re-run with ` + "`--keep-containers`" + ` and inspect the container's logs`,
	},
	ConfigLoadFailedId: {
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try:
- Check the CUE syntax of the config file
- Print the effective configuration:
~~~
$ pbtest config show
~~~
- Move the file aside to fall back to the defaults`,
	},
}

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return int(a.id - b.id) })
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
