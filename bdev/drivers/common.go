package drivers

import (
	"golang.org/x/sys/unix"

	"github.com/lxc/lxc-bdev/bdev"
)

// unmountDestination is the shared umount(2) call site used by back-ends
// whose Umount has no resource beyond the mount itself to release
// (aufs, lvm, nbd, overlayfs, rbd). dir and loop call unix.Unmount
// directly; loop's fd is released by Destroy, not by Umount.
func unmountDestination(dest string) error {
	if err := unix.Unmount(dest, 0); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "unmount %q: %v", dest, err)
	}
	return nil
}
