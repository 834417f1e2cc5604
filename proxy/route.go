// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"strings"
	"time"
)

// Route is one session's reverse-proxy rule. At most one exists per
// session, and only in interactive mode.
type Route struct {
	// Token is the session capability token. It appears as the path
	// segment that scopes the route; possession of the token is the
	// only access gate.
	Token string

	// UpstreamPort is the loopback port of the protocol bridge the
	// route forwards to.
	UpstreamPort int

	// IdleTimeout is the proxied connection idle timeout. Interactive
	// sessions sit idle for hours, so this must be generous.
	IdleTimeout time.Duration
}

// PathPrefix returns the externally visible prefix for the route.
func (r Route) PathPrefix() string {
	return "/vnc/" + r.Token + "/"
}

// renderBlock renders the route as a marker-delimited location block.
// The trailing slash on the proxy_pass URI makes the proxy substitute
// the matched prefix with "/", stripping the token segment before the
// request reaches the upstream.
func (r Route) renderBlock() string {
	timeoutSeconds := int(r.IdleTimeout / time.Second)

	var b strings.Builder
	b.WriteString(beginMarker(r.Token) + "\n")
	fmt.Fprintf(&b, "location %s {\n", r.PathPrefix())
	fmt.Fprintf(&b, "    proxy_pass http://127.0.0.1:%d/;\n", r.UpstreamPort)
	b.WriteString("    proxy_http_version 1.1;\n")
	b.WriteString("    proxy_set_header Upgrade $http_upgrade;\n")
	b.WriteString("    proxy_set_header Connection \"upgrade\";\n")
	b.WriteString("    proxy_set_header Host $host;\n")
	fmt.Fprintf(&b, "    proxy_read_timeout %ds;\n", timeoutSeconds)
	fmt.Fprintf(&b, "    proxy_send_timeout %ds;\n", timeoutSeconds)
	b.WriteString("}\n")
	b.WriteString(endMarker(r.Token) + "\n")
	return b.String()
}

func beginMarker(token string) string {
	return "# BEGIN veins-session " + token
}

func endMarker(token string) string {
	return "# END veins-session " + token
}

// spliceBlock returns content with this token's block replaced by
// block, appending it when no previous block exists. Blocks under
// other tokens pass through untouched.
func spliceBlock(content, token, block string) string {
	stripped := removeBlock(content, token)
	if stripped != "" && !strings.HasSuffix(stripped, "\n") {
		stripped += "\n"
	}
	return stripped + block
}

// removeBlock returns content without the marker-delimited block for
// token. Content without a complete block (both markers present, in
// order) comes back unchanged — a truncated block is left for
// validation to reject rather than guessed at.
func removeBlock(content, token string) string {
	lines := strings.Split(content, "\n")

	begin, end := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if begin == -1 && trimmed == beginMarker(token) {
			begin = i
			continue
		}
		if begin != -1 && trimmed == endMarker(token) {
			end = i
			break
		}
	}
	if begin == -1 || end == -1 {
		return content
	}

	kept := append([]string{}, lines[:begin]...)
	kept = append(kept, lines[end+1:]...)
	return strings.Join(kept, "\n")
}
