package link

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Endpoint kinds.
const (
	KindSim       = "sim"
	KindUDPServer = "udpin"
	KindUDPClient = "udpout"
	KindTCPClient = "tcp"
	KindTCPServer = "tcpin"
	KindSerial    = "serial"
)

// DefaultBaud is used for serial descriptors without a baud rate.
const DefaultBaud = 115200

// AutoDevice asks Resolve to pick the first serial port found.
const AutoDevice = "auto"

// Endpoint is a parsed connection descriptor.
type Endpoint struct {
	Kind    string
	Address string // host:port, or device path for serial
	Baud    int
}

func (e Endpoint) String() string {
	switch e.Kind {
	case KindSim:
		return KindSim
	case KindSerial:
		return fmt.Sprintf("%s:%s:%d", e.Kind, e.Address, e.Baud)
	default:
		return e.Kind + ":" + e.Address
	}
}

// ParseEndpoint parses a connection descriptor:
//
//	sim                         in-process simulated vehicle
//	udp:host:port               listen for UDP (same as udpin)
//	udpin:host:port             listen for UDP
//	udpout:host:port            send UDP to host:port
//	tcp:host:port               connect over TCP (SITL default 127.0.0.1:5760)
//	tcpin:host:port             accept a TCP connection
//	serial:device[:baud]        serial port; device "auto" picks one
//	/dev/ttyXXX[:baud]          serial port shorthand
func ParseEndpoint(desc string) (Endpoint, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint descriptor")
	}
	if desc == KindSim {
		return Endpoint{Kind: KindSim}, nil
	}
	if strings.HasPrefix(desc, "/dev/") || strings.HasPrefix(strings.ToUpper(desc), "COM") {
		return parseSerial(desc)
	}

	kind, rest, ok := strings.Cut(desc, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing kind prefix", desc)
	}
	switch kind {
	case "udp", KindUDPServer:
		return parseHostPort(KindUDPServer, rest)
	case KindUDPClient:
		return parseHostPort(KindUDPClient, rest)
	case KindTCPClient, KindTCPServer:
		return parseHostPort(kind, rest)
	case KindSerial, "usb":
		return parseSerial(rest)
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unknown kind %q", desc, kind)
	}
}

func parseHostPort(kind, addr string) (Endpoint, error) {
	host, port, ok := strings.Cut(addr, ":")
	if !ok || port == "" {
		return Endpoint{}, fmt.Errorf("%s endpoint %q: want host:port", kind, addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return Endpoint{}, fmt.Errorf("%s endpoint %q: invalid port", kind, addr)
	}
	if host == "" && (kind == KindUDPClient || kind == KindTCPClient) {
		return Endpoint{}, fmt.Errorf("%s endpoint %q: host required", kind, addr)
	}
	return Endpoint{Kind: kind, Address: addr}, nil
}

func parseSerial(spec string) (Endpoint, error) {
	device, baudStr, hasBaud := strings.Cut(spec, ":")
	if device == "" {
		return Endpoint{}, fmt.Errorf("serial endpoint %q: device required", spec)
	}
	baud := DefaultBaud
	if hasBaud {
		n, err := strconv.Atoi(baudStr)
		if err != nil || n <= 0 {
			return Endpoint{}, fmt.Errorf("serial endpoint %q: invalid baud %q", spec, baudStr)
		}
		baud = n
	}
	return Endpoint{Kind: KindSerial, Address: device, Baud: baud}, nil
}

// portLister is swapped in tests.
var portLister = detailedPorts

func detailedPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err == nil {
		return ports, nil
	}
	// Fall back to plain names when the enumerator is unsupported
	names, listErr := serial.GetPortsList()
	if listErr != nil {
		return nil, err
	}
	out := make([]*enumerator.PortDetails, 0, len(names))
	for _, name := range names {
		out = append(out, &enumerator.PortDetails{Name: name})
	}
	return out, nil
}

// Resolve replaces an "auto" serial device with a concrete port. USB ports
// are preferred; ties are broken by name.
func (e Endpoint) Resolve() (Endpoint, error) {
	if e.Kind != KindSerial || e.Address != AutoDevice {
		return e, nil
	}
	ports, err := portLister()
	if err != nil {
		return e, fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return e, fmt.Errorf("no serial ports found")
	}
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].IsUSB != ports[j].IsUSB {
			return ports[i].IsUSB
		}
		return ports[i].Name < ports[j].Name
	})
	e.Address = ports[0].Name
	return e, nil
}

// conf maps the endpoint onto a gomavlib endpoint configuration.
func (e Endpoint) conf() (gomavlib.EndpointConf, error) {
	switch e.Kind {
	case KindUDPServer:
		return gomavlib.EndpointUDPServer{Address: e.Address}, nil
	case KindUDPClient:
		return gomavlib.EndpointUDPClient{Address: e.Address}, nil
	case KindTCPClient:
		return gomavlib.EndpointTCPClient{Address: e.Address}, nil
	case KindTCPServer:
		return gomavlib.EndpointTCPServer{Address: e.Address}, nil
	case KindSerial:
		return gomavlib.EndpointSerial{Device: e.Address, Baud: e.Baud}, nil
	default:
		return nil, fmt.Errorf("endpoint kind %q has no MAVLink transport", e.Kind)
	}
}
