// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// RelativeLink builds the session's viewer path relative to whatever
// host and port the caller reaches the proxy on. Always available.
func RelativeLink(token string) string {
	return fmt.Sprintf("/vnc/%s/vnc.html?path=/vnc/%s/websockify", token, token)
}

// DiscoverLink builds an absolute viewer URL by asking the container
// runtime which host port is published onto the proxy's listen port.
// The container ID is taken from the hostname, which the runtime sets
// inside the container. Discovery is best-effort: callers fall back to
// RelativeLink when it fails.
func DiscoverLink(ctx context.Context, controlSocket string, listenPort int, token string) (string, error) {
	hostPort, err := publishedHostPort(ctx, controlSocket, listenPort)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://localhost:%s%s", hostPort, RelativeLink(token)), nil
}

type portBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

type containerInspect struct {
	NetworkSettings struct {
		Ports map[string][]portBinding `json:"Ports"`
	} `json:"NetworkSettings"`
}

// publishedHostPort inspects the enclosing container over the runtime
// control socket and returns the host port mapped onto listenPort.
func publishedHostPort(ctx context.Context, controlSocket string, listenPort int) (string, error) {
	containerID, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("reading container hostname: %w", err)
	}

	client := resty.New().
		SetTimeout(5 * time.Second).
		SetBaseURL("http://docker").
		SetTransport(&http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", controlSocket)
			},
		})

	var inspect containerInspect
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&inspect).
		Get("/containers/" + containerID + "/json")
	if err != nil {
		return "", fmt.Errorf("inspecting container %s: %w", containerID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("inspecting container %s: %s", containerID, resp.Status())
	}

	key := fmt.Sprintf("%d/tcp", listenPort)
	bindings := inspect.NetworkSettings.Ports[key]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return "", fmt.Errorf("no published binding for %s on container %s", key, containerID)
	}
	return bindings[0].HostPort, nil
}
