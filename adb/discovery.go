package adb

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// mDNS service types announced by Android wireless debugging.
const (
	ServiceConnect = "_adb-tls-connect._tcp"
	ServicePairing = "_adb-tls-pairing._tcp"
	ServiceLegacy  = "_adb._tcp"
)

// Discover browses the local network for service until ctx is done.
func Discover(ctx context.Context, service string) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse %s: %w", service, err)
	}

	// the resolver closes entries once ctx is done
	var devices []Device
	for entry := range entries {
		devices = append(devices, deviceFromEntry(entry))
	}
	return devices, nil
}

func deviceFromEntry(entry *zeroconf.ServiceEntry) Device {
	d := Device{Serial: entry.Instance, Port: entry.Port, Status: StatusOffline}
	switch {
	case len(entry.AddrIPv4) > 0:
		d.IP = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		d.IP = entry.AddrIPv6[0].String()
	}
	return d
}

// Address is what `adb connect` expects for a discovered device.
func (d Device) Address() string {
	if d.IP == "" {
		return d.Serial
	}
	if d.Port == 0 {
		return d.IP
	}
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}
