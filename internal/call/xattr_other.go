//go:build !linux

package call

import "fmt"

func setXattr(path, key string, value []byte) error {
	return fmt.Errorf("call: extended attributes are not supported on this platform")
}

func removeXattr(path, key string) error {
	return fmt.Errorf("call: extended attributes are not supported on this platform")
}
