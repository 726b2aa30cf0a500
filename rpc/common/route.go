package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Route
// --------------------------------------------------------------------------

// Wildcard matches any value of a Route field in a pattern
const Wildcard = "*"

// Route identifies one logical connection: source port, destination port and carrier.
// It is a value type; use the With* helpers to derive a changed copy.
type Route struct {
	From    string
	To      string
	Carrier string
}

// NewRoute creates a new route
func NewRoute(from, to, carrier string) Route {
	return Route{From: from, To: to, Carrier: carrier}
}

// WithFrom returns a copy of the route with a new source name
func (r Route) WithFrom(from string) Route {
	r.From = from
	return r
}

// WithTo returns a copy of the route with a new destination name
func (r Route) WithTo(to string) Route {
	r.To = to
	return r
}

// WithCarrier returns a copy of the route with a new carrier name
func (r Route) WithCarrier(carrier string) Route {
	r.Carrier = carrier
	return r
}

// Matches reports whether r matches the pattern. Pattern fields that are
// empty or Wildcard match anything, all others must be equal.
func (r Route) Matches(pattern Route) bool {
	return fieldMatches(pattern.From, r.From) &&
		fieldMatches(pattern.To, r.To) &&
		fieldMatches(pattern.Carrier, r.Carrier)
}

func fieldMatches(pattern, value string) bool {
	return pattern == "" || pattern == Wildcard || pattern == value
}

// String returns the route in the form "from->carrier->to"
func (r Route) String() string {
	return fmt.Sprintf("%s->%s->%s", r.From, r.Carrier, r.To)
}

// --------------------------------------------------------------------------
// Address
// --------------------------------------------------------------------------

// Address is the network location of a port. A Host starting with "/" is
// the path of a unix domain socket, Port is ignored in that case.
type Address struct {
	Host    string
	Port    int
	Carrier string
	Name    string
}

// IsUnix reports whether the address names a unix domain socket
func (a Address) IsUnix() bool {
	return strings.HasPrefix(a.Host, "/")
}

// Valid reports whether the address can be listened on or dialed.
// Port 0 is accepted and means "any free port" when listening.
func (a Address) Valid() bool {
	if a.Host == "" {
		return false
	}
	return a.IsUnix() || (a.Port >= 0 && a.Port <= 65535)
}

// Network returns the net package network name for the address
func (a Address) Network() string {
	if a.IsUnix() {
		return "unix"
	}
	return "tcp"
}

// Endpoint returns the host:port (or socket path) used with net.Dial / net.Listen
func (a Address) Endpoint() string {
	if a.IsUnix() {
		return a.Host
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// WithName returns a copy of the address with a registered name
func (a Address) WithName(name string) Address {
	a.Name = name
	return a
}

// WithCarrier returns a copy of the address with a carrier name
func (a Address) WithCarrier(carrier string) Address {
	a.Carrier = carrier
	return a
}

// Contact returns the address as contact string "carrier://host:port"
func (a Address) Contact() string {
	carrier := a.Carrier
	if carrier == "" {
		carrier = DefaultCarrier
	}
	return carrier + "://" + a.Endpoint()
}

// String returns the contact string, prefixed with the registered name if set
func (a Address) String() string {
	if a.Name == "" {
		return a.Contact()
	}
	return a.Name + "@" + a.Contact()
}

// IsContact reports whether s is a contact string rather than a port name
func IsContact(s string) bool {
	return strings.Contains(s, "://")
}

// ParseContact parses "carrier://host:port" or "carrier:///path/to.sock".
// Contact strings address a port without a name service.
func ParseContact(contact string) (Address, error) {
	carrier, rest, found := strings.Cut(contact, "://")
	if !found || carrier == "" || rest == "" {
		return Address{}, NewError(CodeAddress, nil, "malformed contact %q (expected carrier://host:port)", contact)
	}

	if strings.HasPrefix(rest, "/") {
		return Address{Host: rest, Carrier: carrier}, nil
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Address{}, NewError(CodeAddress, err, "malformed contact %q", contact)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, NewError(CodeAddress, err, "invalid port in contact %q", contact)
	}
	if host == "" {
		host = "localhost"
	}

	return Address{Host: host, Port: port, Carrier: carrier}, nil
}
