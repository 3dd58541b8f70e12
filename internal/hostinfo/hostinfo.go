// Package hostinfo reports facts about the local machine that end up in
// certificate subjects and subjectAltNames.
package hostinfo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
)

// ErrNoUserName is returned when neither the OS account database nor the
// environment yields a user name.
var ErrNoUserName = errors.New("unable to determine the current user name")

// UserName returns the login name of the current user, falling back to $USER
// and then $USERNAME when the account database is unavailable.
func UserName() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if name := os.Getenv(env); name != "" {
			return name, nil
		}
	}
	return "", ErrNoUserName
}

// IPv4Addresses returns every IPv4 address bound to a local interface,
// loopback included, in interface order.
func IPv4Addresses() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}

	var ips []net.IP
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("listing addresses of %s: %w", iface.Name, err)
		}
		ips = appendIPv4(ips, addrs)
	}
	return ips, nil
}

func appendIPv4(ips []net.IP, addrs []net.Addr) []net.IP {
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if v4 := ip.To4(); v4 != nil {
			ips = append(ips, v4)
		}
	}
	return ips
}
