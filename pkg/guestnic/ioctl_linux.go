//go:build linux

package guestnic

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ifreq mirrors struct ifreq from linux/if.h: a 16-byte interface name
// followed by a union big enough for every member the kernel ioctls we use
// can write into (struct sockaddr is 16 bytes; struct ifmap, the largest
// union member, is 24).
type ifreq struct {
	name  [unix.IFNAMSIZ]byte
	union [24]byte
}

func newIfreq(name string) ifreq {
	var r ifreq
	copy(r.name[:], name)
	return r
}

func networkIoctl(req uintptr, data *ifreq) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(data)))
	if errno != 0 {
		return errno
	}
	return nil
}

// QueryInterface reads the hardware address, netmask-derived prefix length,
// and IPv4 address of the named interface (e.g. "eth0") through the
// SIOCGIFHWADDR/SIOCGIFNETMASK/SIOCGIFADDR ioctls on a throwaway AF_INET
// datagram socket, one socket per ioctl, matching the reference
// implementation's network_ioctl discipline.
func QueryInterface(name string) (mac [macFieldLen]byte, ip [ipFieldLen]byte, prefixLen uint32, err error) {
	hw := newIfreq(name)
	if err = networkIoctl(unix.SIOCGIFHWADDR, &hw); err != nil {
		return mac, ip, 0, fmt.Errorf("guestnic: SIOCGIFHWADDR %s: %w", name, err)
	}
	hwBytes := hw.union[2:8]
	macStr := fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		hwBytes[0], hwBytes[1], hwBytes[2], hwBytes[3], hwBytes[4], hwBytes[5])
	copy(mac[:], macStr)

	nm := newIfreq(name)
	if err = networkIoctl(unix.SIOCGIFNETMASK, &nm); err != nil {
		return mac, ip, 0, fmt.Errorf("guestnic: SIOCGIFNETMASK %s: %w", name, err)
	}
	prefixLen = prefixLenFromNetmask(nm)

	ip, err = QueryAddress(name)
	if err != nil {
		return mac, ip, 0, err
	}

	return mac, ip, prefixLen, nil
}

// QueryAddress reads only the IPv4 address of the named interface, via a
// single SIOCGIFADDR ioctl. Callers that need just the address (such as the
// broadcastIP TCLO handler) use this instead of QueryInterface so a failure
// in the hwaddr or netmask ioctl never gates a result they don't need.
func QueryAddress(name string) (ip [ipFieldLen]byte, err error) {
	addr := newIfreq(name)
	if err := networkIoctl(unix.SIOCGIFADDR, &addr); err != nil {
		return ip, fmt.Errorf("guestnic: SIOCGIFADDR %s: %w", name, err)
	}
	copy(ip[:], addr.union[4:8])
	return ip, nil
}

// prefixLenFromNetmask reads the already-queried SIOCGIFNETMASK result.
// Deliberately NOT popcount(netmask): the reference implementation reads
// the network-order mask as a native (little-endian) signed 32-bit int and
// counts arithmetic right-shifts until it reaches zero. Preserved bit-for-
// bit for wire compatibility; see the open question about whether popcount
// was the intended value.
func prefixLenFromNetmask(nm ifreq) uint32 {
	maskWord := int32(nm.union[4]) | int32(nm.union[5])<<8 | int32(nm.union[6])<<16 | int32(nm.union[7])<<24
	var bits uint32
	for maskWord > 0 {
		maskWord >>= 1
		bits++
	}
	return bits
}
