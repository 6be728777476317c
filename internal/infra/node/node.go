// Package node identifies the running process: MQTT sources, client ids and
// telemetry resources are derived from it.
package node

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const ServiceName = "lumen-gatherer"

type Node struct {
	ID         string
	Hostname   string
	IPAddress  string
	Version    string
	CommitHash string
}

var Version = "development"
var CommitHash = "unknown"

var (
	current     *Node
	currentOnce sync.Once
)

// GetNodeInfo returns the same Node for the life of the process.
func GetNodeInfo() *Node {
	currentOnce.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		current = &Node{
			ID:         uuid.NewString(),
			Hostname:   hostname,
			IPAddress:  outboundIPAddress(),
			Version:    Version,
			CommitHash: CommitHash,
		}
	})
	return current
}

// Source names this node on the wire, e.g. as the source of MQTT requests.
func (n *Node) Source() string {
	return fmt.Sprintf("%s-%s", ServiceName, n.ID[:8])
}

// ClientID is the MQTT client id. Brokers disconnect duplicates, so every
// role gets its own.
func (n *Node) ClientID(role string) string {
	return fmt.Sprintf("%s-%s", n.Source(), role)
}

// Attributes describe the node for telemetry resources.
func (n *Node) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", n.Version),
		attribute.String("service.instance.id", n.ID),
		attribute.String("host.name", n.Hostname),
		attribute.String("host.ip", n.IPAddress),
		attribute.String("vcs.commit", n.CommitHash),
	}
}

// outboundIPAddress dials nothing: a UDP "connection" only picks the route.
func outboundIPAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
