// Package pconfig loads the INI-like run configuration (spec.md §6) into an
// immutable Config value threaded to every other component: a global
// section describing the mount under test plus one section per cooperating
// server process.
package pconfig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Unknwon/goconfig"
	"github.com/asaskevich/govalidator"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/ingest"
)

// FSType names the clustered file system under test.
type FSType string

const (
	BeeGFS    FSType = "beegfs"
	OrangeFS  FSType = "orangefs"
	GlusterFS FSType = "glusterfs"
)

var fsTypes = []string{string(BeeGFS), string(OrangeFS), string(GlusterFS)}

// FrameHeader returns the Sendto/Recvfrom framing sentinel for this file
// system (spec.md §6 "FS header sentinels").
func (t FSType) FrameHeader() ingest.FrameHeader {
	switch t {
	case BeeGFS:
		return ingest.BeeGFSFrameHeader
	case OrangeFS:
		return ingest.OrangeFSFrameHeader
	case GlusterFS:
		return ingest.GlusterFSFrameHeader
	default:
		return ingest.FrameHeader{}
	}
}

// Config is the parsed, validated run configuration. Once returned from
// Load it is never mutated.
type Config struct {
	MountPoint     string
	ClientName     string
	Type           FSType
	StripeSize     int64
	EntryInfoHints []string
	RunSudo        bool

	// Padding, when non-zero, is the block size internal/layout.Match
	// aligns client write regions to before striping, modeling file
	// systems that aggregate small writes into fixed blocks. Mutually
	// exclusive with Aggregation.
	Padding int64
	// Aggregation enables internal/layout.Match's N-to-1 matching mode,
	// where several client writes may realize onto one larger server
	// write. Mutually exclusive with Padding.
	Aggregation bool

	Services []*call.Server
}

const globalSection = "global"

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	cfg, err := goconfig.LoadConfigFile(path)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("cannot read config file: %v", err)}
	}
	return fromGoconfig(cfg)
}

func fromGoconfig(cfg *goconfig.ConfigFile) (*Config, error) {
	names, err := requiredValue(cfg, globalSection, "services")
	if err != nil {
		return nil, err
	}
	serviceNames := splitCSV(names)
	if len(serviceNames) == 0 {
		return nil, &Error{Reason: "global.services must name at least one service"}
	}

	mountPoint, err := requiredValue(cfg, globalSection, "mount_point")
	if err != nil {
		return nil, err
	}
	clientName, err := requiredValue(cfg, globalSection, "client_name")
	if err != nil {
		return nil, err
	}
	typeStr, err := requiredValue(cfg, globalSection, "type")
	if err != nil {
		return nil, err
	}
	if !govalidator.IsIn(typeStr, fsTypes...) {
		return nil, &Error{Reason: fmt.Sprintf("global.type %q must be one of %v", typeStr, fsTypes)}
	}

	stripeStr, err := requiredValue(cfg, globalSection, "stripe_size")
	if err != nil {
		return nil, err
	}
	if !govalidator.IsNumeric(stripeStr) {
		return nil, &Error{Reason: fmt.Sprintf("global.stripe_size %q is not numeric", stripeStr)}
	}
	stripeSize, err := strconv.ParseInt(stripeStr, 10, 64)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("global.stripe_size: %v", err)}
	}
	if stripeSize <= 0 {
		return nil, &Error{Reason: fmt.Sprintf("global.stripe_size %q must be positive", stripeStr)}
	}

	hints := splitCSV(cfg.MustValue(globalSection, "entryinfo_hints", ""))
	runSudo, _ := strconv.ParseBool(cfg.MustValue(globalSection, "run_sudo", "false"))

	padding, _ := strconv.ParseInt(cfg.MustValue(globalSection, "padding", "0"), 10, 64)
	aggregation, _ := strconv.ParseBool(cfg.MustValue(globalSection, "aggregation", "false"))
	if padding > 0 && aggregation {
		return nil, &Error{Reason: "global.padding and global.aggregation are mutually exclusive"}
	}

	services := make([]*call.Server, 0, len(serviceNames))
	for _, name := range serviceNames {
		srv, err := serviceFromSection(cfg, name)
		if err != nil {
			return nil, err
		}
		services = append(services, srv)
	}

	c := &Config{
		MountPoint:     mountPoint,
		ClientName:     clientName,
		Type:           FSType(typeStr),
		StripeSize:     stripeSize,
		EntryInfoHints: hints,
		RunSudo:        runSudo,
		Padding:        padding,
		Aggregation:    aggregation,
		Services:       services,
	}
	if err := c.validateHints(); err != nil {
		return nil, err
	}
	return c, nil
}

func serviceFromSection(cfg *goconfig.ConfigFile, name string) (*call.Server, error) {
	roleStr, err := requiredValue(cfg, name, "type")
	if err != nil {
		return nil, err
	}
	role, err := call.ParseRole(roleStr)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("section %q: %v", name, err)}
	}

	exec, err := requiredValue(cfg, name, "exec")
	if err != nil {
		return nil, err
	}
	host, err := requiredValue(cfg, name, "host")
	if err != nil {
		return nil, err
	}
	dataPath, err := requiredValue(cfg, name, "data_path")
	if err != nil {
		return nil, err
	}

	tag := cfg.MustValue(name, "tag", name)
	dataDirs := splitCSV(cfg.MustValue(name, "data_dirs", ""))
	sshTarget := cfg.MustValue(name, "ssh_target", "")
	containerImage := cfg.MustValue(name, "container_image", "")

	return &call.Server{
		Name:           name,
		Role:           role,
		Executable:     exec,
		Tag:            tag,
		Host:           host,
		DataPath:       dataPath,
		DataDirs:       dataDirs,
		SSHTarget:      sshTarget,
		ContainerImage: containerImage,
	}, nil
}

// validateHints requires every entryinfo_hints entry to name a configured
// storage-role service (spec.md §9 "entryinfo_hints").
func (c *Config) validateHints() error {
	byName := make(map[string]*call.Server, len(c.Services))
	for _, s := range c.Services {
		byName[s.Name] = s
	}
	for _, hint := range c.EntryInfoHints {
		srv, ok := byName[hint]
		if !ok {
			return &Error{Reason: fmt.Sprintf("entryinfo_hints names unknown service %q", hint)}
		}
		if srv.Role != call.RoleStorage {
			return &Error{Reason: fmt.Sprintf("entryinfo_hints service %q is not a storage service", hint)}
		}
	}
	return nil
}

func requiredValue(cfg *goconfig.ConfigFile, section, key string) (string, error) {
	v, err := cfg.GetValue(section, key)
	if err != nil || strings.TrimSpace(v) == "" {
		return "", &Error{Reason: fmt.Sprintf("missing required key %q in section %q", key, section)}
	}
	return v, nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
