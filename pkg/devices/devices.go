// Package devices enumerates capturable network interfaces, backing the
// CLI's --list-interfaces flag and giving config validation an actionable
// error when the configured interface name doesn't exist.
package devices

import (
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"
)

// InterfaceInfo describes one capturable device.
type InterfaceInfo struct {
	Name        string
	Description string
	Addresses   []net.IP
}

// List enumerates the devices the packet-source library can open, via
// pcap.FindAllDevs.
func List() ([]InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("devices: enumerating capture devices: %w", err)
	}

	out := make([]InterfaceInfo, 0, len(devs))
	for _, d := range devs {
		addrs := make([]net.IP, 0, len(d.Addresses))
		for _, a := range d.Addresses {
			addrs = append(addrs, a.IP)
		}
		out = append(out, InterfaceInfo{
			Name:        d.Name,
			Description: d.Description,
			Addresses:   addrs,
		})
	}
	return out, nil
}

// Exists reports whether name matches a device List() would return,
// without allocating a full InterfaceInfo slice for the caller.
func Exists(name string) (bool, error) {
	infos, err := List()
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Name == name {
			return true, nil
		}
	}
	return false, nil
}
