package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

const (
	// DockerHostAlias reaches the host machine from inside a container.
	DockerHostAlias = "host.docker.internal"

	dockerEnvFile = "/.dockerenv"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the process runs inside a Docker
// container, detected by /.dockerenv. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat(dockerEnvFile)
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to DockerHostAlias when running in
// Docker so that PostgreSQL, Redis and locally served applications on the
// host machine stay reachable. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

// ResolveURLForDocker applies ResolveHostForDocker to the host of u, keeping
// its port. u is modified in place.
func ResolveURLForDocker(u *url.URL) {
	resolveURL(u, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return DockerHostAlias
	}
	return host
}

func resolveURL(u *url.URL, inDocker bool) {
	host := u.Hostname()
	resolved := resolveHost(host, inDocker)
	if resolved == host {
		return
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(resolved, port)
		return
	}
	u.Host = resolved
}
