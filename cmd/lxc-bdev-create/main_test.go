package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_LVNameRequiresLVMBdev(t *testing.T) {
	err := validate(flags{lvname: "data", bdevType: "dir"})
	assert.Error(t, err)

	err = validate(flags{lvname: "data", bdevType: "lvm"})
	assert.NoError(t, err)
}

func TestValidate_ZFSRootRequiresZFSBdev(t *testing.T) {
	err := validate(flags{zfsroot: "tank/lxc", bdevType: "dir"})
	assert.Error(t, err)

	err = validate(flags{zfsroot: "tank/lxc", bdevType: "zfs"})
	assert.NoError(t, err)
}

func TestValidate_FSTypeAllowedForLoopAndLVM(t *testing.T) {
	assert.NoError(t, validate(flags{fstype: "ext4", bdevType: "loop"}))
	assert.NoError(t, validate(flags{fstype: "ext4", bdevType: "lvm"}))
	assert.Error(t, validate(flags{fstype: "ext4", bdevType: "zfs"}))
}

func TestValidate_NoFlagsIsValid(t *testing.T) {
	assert.NoError(t, validate(flags{}))
}
