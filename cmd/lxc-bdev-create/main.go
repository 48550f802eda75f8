// Command lxc-bdev-create is the backing-store creator tool (spec.md §6,
// an external collaborator to the core subsystem): it parses the
// container-creation flags this subsystem needs and invokes
// bdev.Registry.Create.
// Everything else lxc-create does (template execution, container-config
// writing) is out of scope here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lxc/lxc-bdev/bdev"
	"github.com/lxc/lxc-bdev/bdev/drivers"
	"github.com/lxc/lxc-bdev/nbdsup"
)

var log = logrus.WithField("subsystem", "lxc.bdev")

type flags struct {
	name     string
	config   string
	template string
	bdevType string
	lvname   string
	vgname   string
	fstype   string
	fssize   string
	dir      string
	zfsroot  string
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == nbdsup.SupervisorChildFlag {
		os.Exit(runSupervisorChild(os.Args[2:]))
	}

	var f flags
	root := &cobra.Command{
		Use:          "lxc-bdev-create",
		Short:        "create a container's backing store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	fs := root.Flags()
	fs.StringVar(&f.name, "name", "", "container name")
	fs.StringVar(&f.config, "config", "", "container configuration file")
	fs.StringVar(&f.template, "template", "", "template to use")
	fs.StringVar(&f.bdevType, "bdev", "", "backing store type (dir, loop, lvm, btrfs, zfs, aufs, overlayfs, rbd, nbd, best, or a comma list)")
	fs.StringVar(&f.lvname, "lvname", "", "LVM logical volume name (requires --bdev=lvm)")
	fs.StringVar(&f.vgname, "vgname", "", "LVM volume group name (requires --bdev=lvm)")
	fs.StringVar(&f.fstype, "fstype", "", "filesystem type")
	fs.StringVar(&f.fssize, "fssize", "", "filesystem size, with optional k/m/g suffix")
	fs.StringVar(&f.dir, "dir", "", "directory backing store source override")
	fs.StringVar(&f.zfsroot, "zfsroot", "", "ZFS root dataset (requires --bdev=zfs)")

	root.MarkFlagRequired("name")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	if err := validate(f); err != nil {
		return err
	}

	size, err := bdev.ParseFSSize(f.fssize)
	if err != nil {
		return err
	}

	specs := bdev.Specs{
		Dir:     f.dir,
		FSType:  f.fstype,
		FSSize:  size,
		VG:      f.vgname,
		LV:      f.lvname,
		ZFSRoot: f.zfsroot,
	}

	reg, err := bdev.NewRegistry(
		drivers.NewDir(),
		drivers.NewLoop(),
		drivers.NewLVM(),
		drivers.NewBtrfs(),
		drivers.NewZFS(),
		drivers.NewAUFS(),
		drivers.NewOverlayFS(),
		drivers.NewRBD(),
		drivers.NewNBD(),
	)
	if err != nil {
		return err
	}

	dest := bdev.RootfsPath(defaultLXCPath(), f.name)
	h, err := reg.Create(ctx, dest, f.bdevType, f.name, specs)
	if err != nil {
		log.WithError(err).WithField("name", f.name).Error("backing store creation failed")
		return err
	}

	log.WithField("name", f.name).WithField("handle", h.String()).Info("backing store created")
	return nil
}

// validate implements spec.md §6's CLI flag cross-validation:
// --fstype/--fssize and --lvname/--vgname travel with --bdev=lvm (fstype/
// fssize are also meaningful for loop, per spec.md §3's data model), and
// --zfsroot only with --bdev=zfs.
func validate(f flags) error {
	if f.lvname != "" && f.bdevType != "lvm" {
		return bdev.Wrapf(bdev.ErrBadArgument, "--lvname requires --bdev=lvm")
	}
	if f.vgname != "" && f.bdevType != "lvm" {
		return bdev.Wrapf(bdev.ErrBadArgument, "--vgname requires --bdev=lvm")
	}
	if f.zfsroot != "" && f.bdevType != "zfs" {
		return bdev.Wrapf(bdev.ErrBadArgument, "--zfsroot requires --bdev=zfs")
	}
	if (f.fstype != "" || f.fssize != "") && f.bdevType != "lvm" && f.bdevType != "loop" && f.bdevType != "" && f.bdevType != "best" {
		return bdev.Wrapf(bdev.ErrBadArgument, "--fstype/--fssize require --bdev=loop or --bdev=lvm")
	}
	return nil
}

func defaultLXCPath() string {
	if p := os.Getenv("LXC_PATH"); p != "" {
		return p
	}
	return "/var/lib/lxc"
}

// runSupervisorChild dispatches to nbdsup.RunSupervisorChild when this
// binary is re-exec'd as the NBD supervisor's intermediate child (the
// Go-native stand-in for the original's second fork; see package
// nbdsup's doc comment).
func runSupervisorChild(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "nbd supervisor child: expected <index> <image>")
		return 1
	}
	var index int
	if _, err := fmt.Sscanf(args[0], "%d", &index); err != nil {
		fmt.Fprintln(os.Stderr, "nbd supervisor child: bad index:", args[0])
		return 1
	}
	return nbdsup.RunSupervisorChild(context.Background(), index, args[1])
}
