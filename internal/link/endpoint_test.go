package link

import (
	"errors"
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"go.bug.st/serial/enumerator"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		desc string
		want Endpoint
	}{
		{"sim", Endpoint{Kind: KindSim}},
		{"udp:127.0.0.1:17171", Endpoint{Kind: KindUDPServer, Address: "127.0.0.1:17171"}},
		{"udpin:0.0.0.0:14550", Endpoint{Kind: KindUDPServer, Address: "0.0.0.0:14550"}},
		{"udpout:10.0.0.2:14550", Endpoint{Kind: KindUDPClient, Address: "10.0.0.2:14550"}},
		{"tcp:127.0.0.1:5760", Endpoint{Kind: KindTCPClient, Address: "127.0.0.1:5760"}},
		{"tcpin::5760", Endpoint{Kind: KindTCPServer, Address: ":5760"}},
		{"serial:/dev/ttyACM0", Endpoint{Kind: KindSerial, Address: "/dev/ttyACM0", Baud: DefaultBaud}},
		{"serial:/dev/ttyUSB0:57600", Endpoint{Kind: KindSerial, Address: "/dev/ttyUSB0", Baud: 57600}},
		{"usb:/dev/ttyACM1", Endpoint{Kind: KindSerial, Address: "/dev/ttyACM1", Baud: DefaultBaud}},
		{"/dev/serial0:921600", Endpoint{Kind: KindSerial, Address: "/dev/serial0", Baud: 921600}},
		{"serial:auto", Endpoint{Kind: KindSerial, Address: AutoDevice, Baud: DefaultBaud}},
		{"  sim  ", Endpoint{Kind: KindSim}},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := ParseEndpoint(tt.desc)
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) error: %v", tt.desc, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestParseEndpointInvalid(t *testing.T) {
	for _, desc := range []string{
		"",
		"localhost",
		"ftp:host:21",
		"udpout::14550",
		"tcp:127.0.0.1",
		"tcp:127.0.0.1:notaport",
		"udp:127.0.0.1:70000",
		"serial:",
		"serial:/dev/ttyACM0:fast",
	} {
		if _, err := ParseEndpoint(desc); err == nil {
			t.Errorf("ParseEndpoint(%q) accepted an invalid descriptor", desc)
		}
	}
}

func TestEndpointString(t *testing.T) {
	ep, _ := ParseEndpoint("/dev/ttyACM0")
	if ep.String() != "serial:/dev/ttyACM0:115200" {
		t.Errorf("String() = %q", ep.String())
	}
	ep, _ = ParseEndpoint("udp:127.0.0.1:17171")
	if ep.String() != "udpin:127.0.0.1:17171" {
		t.Errorf("String() = %q", ep.String())
	}
}

func TestResolveAutoPrefersUSB(t *testing.T) {
	orig := portLister
	t.Cleanup(func() { portLister = orig })
	portLister = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB1", IsUSB: true},
			{Name: "/dev/ttyACM0", IsUSB: true},
		}, nil
	}

	ep, err := Endpoint{Kind: KindSerial, Address: AutoDevice, Baud: 57600}.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if ep.Address != "/dev/ttyACM0" || ep.Baud != 57600 {
		t.Errorf("Resolve() = %+v, want first USB port by name", ep)
	}
}

func TestResolveAutoNoPorts(t *testing.T) {
	orig := portLister
	t.Cleanup(func() { portLister = orig })
	portLister = func() ([]*enumerator.PortDetails, error) { return nil, nil }

	if _, err := (Endpoint{Kind: KindSerial, Address: AutoDevice}).Resolve(); err == nil {
		t.Error("expected error when no ports exist")
	}

	portLister = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("permission denied") }
	if _, err := (Endpoint{Kind: KindSerial, Address: AutoDevice}).Resolve(); err == nil {
		t.Error("expected lister error to surface")
	}
}

func TestResolveLeavesConcreteEndpoints(t *testing.T) {
	ep := Endpoint{Kind: KindTCPClient, Address: "127.0.0.1:5760"}
	got, err := ep.Resolve()
	if err != nil || got != ep {
		t.Errorf("Resolve() = %+v, %v", got, err)
	}
}

func TestEndpointConf(t *testing.T) {
	tests := []struct {
		ep   Endpoint
		want gomavlib.EndpointConf
	}{
		{Endpoint{Kind: KindUDPServer, Address: ":14550"}, gomavlib.EndpointUDPServer{Address: ":14550"}},
		{Endpoint{Kind: KindUDPClient, Address: "h:1"}, gomavlib.EndpointUDPClient{Address: "h:1"}},
		{Endpoint{Kind: KindTCPClient, Address: "h:2"}, gomavlib.EndpointTCPClient{Address: "h:2"}},
		{Endpoint{Kind: KindTCPServer, Address: ":3"}, gomavlib.EndpointTCPServer{Address: ":3"}},
		{Endpoint{Kind: KindSerial, Address: "/dev/x", Baud: 9600}, gomavlib.EndpointSerial{Device: "/dev/x", Baud: 9600}},
	}
	for _, tt := range tests {
		got, err := tt.ep.conf()
		if err != nil {
			t.Fatalf("conf(%v) error: %v", tt.ep, err)
		}
		if got != tt.want {
			t.Errorf("conf(%v) = %#v, want %#v", tt.ep, got, tt.want)
		}
	}

	if _, err := (Endpoint{Kind: KindSim}).conf(); err == nil {
		t.Error("sim endpoint should have no MAVLink transport")
	}
}
