//go:build linux

package call

import "golang.org/x/sys/unix"

func setXattr(path, key string, value []byte) error {
	return unix.Setxattr(path, key, value, 0)
}

func removeXattr(path, key string) error {
	return unix.Removexattr(path, key)
}
