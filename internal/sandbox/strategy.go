package sandbox

import (
	"fmt"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/ingest"
	"github.com/sandia-minimega/paracheck/internal/pconfig"
)

// FSType names the clustered file system a Strategy targets; it is an
// alias of pconfig.FSType so the config loader and the sandbox layer agree
// on one enum.
type FSType = pconfig.FSType

const (
	BeeGFS    = pconfig.BeeGFS
	OrangeFS  = pconfig.OrangeFS
	GlusterFS = pconfig.GlusterFS
)

// Strategy bundles everything sandbox needs that is specific to one file
// system's on-disk layout and service commands (spec.md §9 "Design Notes",
// SPEC_FULL.md §6 "per-FS strategy table"). Header size/ident line up with
// the sentinels internal/ingest decodes from Sendto/Recvfrom payloads.
type Strategy struct {
	Type   FSType
	Header ingest.FrameHeader

	// StartCmd/StopCmd build the shell command that brings one server's
	// service up or down; a nil StartCmd/StopCmd means the strategy has
	// nothing to run for that server's role (matching pfs_start's blank
	// beegfs-stop branch).
	StartCmd func(srv *call.Server) string
	StopCmd  func(srv *call.Server) string

	// MountCmd/UnmountCmd run once for the whole cluster, against the
	// configured mount point.
	MountCmd   func(mountPoint string) string
	UnmountCmd func(mountPoint string) string

	// SnapshotTarFlags/RestoreTarFlags are passed to `tar` when capturing
	// or replaying a server's data_path.
	SnapshotTarFlags []string
	RestoreTarFlags  []string

	// ExtraCleanDirs names additional per-data-dir subdirectories to purge
	// before a restore, beyond data_path/data_dirs itself (GlusterFS keeps
	// extended-attribute bookkeeping under .glusterfs that a plain tar
	// extract won't overwrite cleanly).
	ExtraCleanDirs []string

	// NeedsSudo marks commands that must run through sudo even when
	// Config.RunSudo is false for everything else (glusterfs volume
	// start/stop).
	NeedsSudo bool
}

// Strategies is the built-in per-FS-type table.
var Strategies = map[FSType]*Strategy{
	BeeGFS: {
		Type:   BeeGFS,
		Header: ingest.BeeGFSFrameHeader,
		StartCmd: func(srv *call.Server) string {
			return fmt.Sprintf("service %s restart", srv.Name)
		},
		StopCmd: func(srv *call.Server) string {
			// pfs_stop's beegfs branch is intentionally a no-op: BeeGFS
			// services are left running between states and only their
			// data directories are replaced by restore.
			return ""
		},
		MountCmd:         func(mountPoint string) string { return "" },
		UnmountCmd:       func(mountPoint string) string { return "" },
		SnapshotTarFlags: []string{"--xattrs", "--xattrs-include=*"},
		RestoreTarFlags:  []string{"--xattrs", "--xattrs-include=*"},
	},
	OrangeFS: {
		Type:   OrangeFS,
		Header: ingest.OrangeFSFrameHeader,
		StartCmd: func(srv *call.Server) string {
			return fmt.Sprintf("pvfs2-server -a %s", srv.Tag)
		},
		StopCmd: func(srv *call.Server) string {
			return "pkill -9 -f pvfs2-server"
		},
		MountCmd: func(mountPoint string) string {
			return fmt.Sprintf("mount -t pvfs2 tcp://localhost:3334/orangefs %s", mountPoint)
		},
		UnmountCmd: func(mountPoint string) string {
			return fmt.Sprintf("umount %s", mountPoint)
		},
		SnapshotTarFlags: nil,
		RestoreTarFlags:  nil,
	},
	GlusterFS: {
		Type:      GlusterFS,
		Header:    ingest.GlusterFSFrameHeader,
		NeedsSudo: true,
		StartCmd: func(srv *call.Server) string {
			return "gluster volume start paracheck --mode=script"
		},
		StopCmd: func(srv *call.Server) string {
			return "gluster volume stop paracheck --mode=script"
		},
		MountCmd: func(mountPoint string) string {
			return fmt.Sprintf("mount -t glusterfs localhost:/paracheck %s", mountPoint)
		},
		UnmountCmd: func(mountPoint string) string {
			return fmt.Sprintf("umount %s", mountPoint)
		},
		SnapshotTarFlags: []string{"--xattrs", "--xattrs-include=*"},
		RestoreTarFlags:  []string{"--xattrs", "--xattrs-include=*"},
		ExtraCleanDirs:   []string{".glusterfs"},
	},
}
