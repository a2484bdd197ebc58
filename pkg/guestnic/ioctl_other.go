//go:build !linux

package guestnic

import "errors"

var errUnsupportedPlatform = errors.New("guestnic: interface ioctls require linux")

// QueryInterface always fails on non-Linux hosts; Build treats that
// the same as any other per-card ioctl failure and leaves the template's
// placeholder bytes for that slot intact.
func QueryInterface(name string) (mac [macFieldLen]byte, ip [ipFieldLen]byte, prefixLen uint32, err error) {
	return mac, ip, 0, errUnsupportedPlatform
}

// QueryAddress always fails on non-Linux hosts.
func QueryAddress(name string) (ip [ipFieldLen]byte, err error) {
	return ip, errUnsupportedPlatform
}
