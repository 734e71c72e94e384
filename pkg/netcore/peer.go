package netcore

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// peerHostname reverse-resolves addr into a lowercase hostname, falling
// back to the dotted-quad literal on lookup failure. The result must fit
// in maxLen-1 bytes; a longer hostname is reported as an error and is
// never truncated.
func peerHostname(ctx context.Context, addr uint32, maxLen int) (string, error) {
	dq := dottedQuad(addr)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, dq)
	if err != nil || len(names) == 0 {
		return truncateHostname(dq, maxLen)
	}

	name := strings.ToLower(strings.TrimSuffix(names[0], "."))
	return truncateHostname(name, maxLen)
}

func truncateHostname(name string, maxLen int) (string, error) {
	if maxLen <= 0 {
		return "", fmt.Errorf("netcore: peer_hostname buffer has no room")
	}
	if len(name) > maxLen-1 {
		return "", fmt.Errorf("netcore: hostname %q exceeds buffer of %d bytes", name, maxLen)
	}
	return name, nil
}

func dottedQuad(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
