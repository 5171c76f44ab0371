// Package tunnel keeps the list of relay tunnels, measures their latency and
// picks the one a room plays through.
package tunnel

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed tunnel entry")
var ErrUnknownTunnel = errors.New("unknown tunnel")
var ErrInsufficientPorts = errors.New("tunnel returned too few ports")
var ErrNoTunnel = errors.New("no tunnel selected")

const (
	statusRecommended = 1
	statusOfficial    = 2
	loadPenalty       = 100
)

type Tunnel struct {
	Address          string
	Port             int
	Country          string
	CountryCode      string
	Name             string
	RequiresPassword bool
	Clients          int
	MaxClients       int
	Official         bool
	Recommended      bool
	Latitude         float64
	Longitude        float64
	Version          int
	Distance         float64
	PingInMs         int
}

func (t Tunnel) Key() string { return net.JoinHostPort(t.Address, strconv.Itoa(t.Port)) }

func (t Tunnel) Full() bool { return t.MaxClients > 0 && t.Clients >= t.MaxClients }

// Rating orders tunnels for auto-selection, lower is better. It is the ping
// plus a penalty growing with the tunnel's load. Unpinged and full tunnels
// are never preferred.
func (t Tunnel) Rating() int {
	if t.PingInMs < 0 || t.Full() {
		return math.MaxInt
	}
	load := 0
	if t.MaxClients > 0 {
		load = loadPenalty * t.Clients / t.MaxClients
	}
	return t.PingInMs + load
}

// Parse reads one master-list line:
// address:port;country;countryCode;name;password;clients;maxClients;status;lat;lon;version;distance
func Parse(line string) (Tunnel, error) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	if len(parts) < 12 {
		return Tunnel{}, fmt.Errorf("%d fields: %w", len(parts), ErrMalformed)
	}

	host, portStr, err := net.SplitHostPort(parts[0])
	if err != nil {
		return Tunnel{}, fmt.Errorf("address %q: %w", parts[0], ErrMalformed)
	}
	t := Tunnel{
		Address:          host,
		Country:          parts[1],
		CountryCode:      parts[2],
		Name:             parts[3],
		RequiresPassword: parts[4] != "0",
		PingInMs:         -1,
	}

	ints := []struct {
		dst *int
		src string
	}{
		{&t.Port, portStr},
		{&t.Clients, parts[5]},
		{&t.MaxClients, parts[6]},
		{&t.Version, parts[10]},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(f.src); err != nil {
			return Tunnel{}, fmt.Errorf("%q: %w", f.src, ErrMalformed)
		}
	}
	status, err := strconv.Atoi(parts[7])
	if err != nil {
		return Tunnel{}, fmt.Errorf("status %q: %w", parts[7], ErrMalformed)
	}
	t.Official = status == statusOfficial
	t.Recommended = !t.Official && status == statusRecommended

	floats := []struct {
		dst *float64
		src string
	}{
		{&t.Latitude, parts[8]},
		{&t.Longitude, parts[9]},
		{&t.Distance, parts[11]},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
			return Tunnel{}, fmt.Errorf("%q: %w", f.src, ErrMalformed)
		}
	}
	return t, nil
}
