// Package dummy is a file-backed CPI backend that provisions nothing. It
// keeps stemcells, VMs, disks and snapshots in a YAML state file so that
// deployments can be exercised end to end without a real cloud.
package dummy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
	"github.com/openfroyo/stratum/pkg/process"
)

// Name is the registry name of the backend.
const Name = "dummy"

// FailCreateProperty makes create_vm fail when set in cloud properties.
const FailCreateProperty = "fail_create"

// Cloud is the dummy backend. All state lives under one directory.
type Cloud struct {
	cpi.Unimplemented

	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// New builds the backend from provider options. The "dir" option names
// the state directory and is required.
func New(options cpi.Properties, p *process.Process) (cpi.Cloud, error) {
	dir, _ := options["dir"].(string)
	if dir == "" {
		return nil, fault.NewInvalidArgument("dummy backend requires the 'dir' option", nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fault.NewInvalidArgument(fmt.Sprintf("cannot create dummy cloud base directory %s", dir), err)
	}

	return &Cloud{
		dir:    dir,
		logger: p.Logger().With().Str("component", "dummy_cpi").Logger(),
	}, nil
}

var _ cpi.Cloud = (*Cloud)(nil)

// update runs fn against the current state and persists the result.
func (c *Cloud) update(ctx context.Context, op cpi.Operation, fn func(s *state) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oc, _ := opctx.FromContext(ctx)
	c.logger.Debug().Str("operation", string(op)).Str("request_id", oc.RequestID).Msg("Dummy CPI call")

	s, err := loadState(c.dir)
	if err != nil {
		return fault.NewCloud("dummy state unavailable", false, err)
	}
	if err := fn(s); err != nil {
		return err
	}
	if err := s.save(c.dir); err != nil {
		return fault.NewCloud("dummy state unavailable", false, err)
	}
	return nil
}

// view runs fn against the current state without persisting.
func (c *Cloud) view(fn func(s *state) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := loadState(c.dir)
	if err != nil {
		return fault.NewCloud("dummy state unavailable", false, err)
	}
	return fn(s)
}

func newCID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func notFound(kind, cid string) error {
	return fault.NewNotFound(fmt.Sprintf("%s %s not found", kind, cid), nil)
}

// Info implements cpi.Cloud.
func (c *Cloud) Info(context.Context) (cpi.Info, error) {
	return cpi.Info{StemcellFormats: []string{"dummy"}, APIVersion: 1}, nil
}

// CreateStemcell implements cpi.Cloud.
func (c *Cloud) CreateStemcell(ctx context.Context, imagePath string, cloudProperties cpi.Properties) (string, error) {
	cid := newCID("sc")
	err := c.update(ctx, cpi.OpCreateStemcell, func(s *state) error {
		s.Stemcells[cid] = &stemcellRecord{ImagePath: imagePath, CloudProperties: cloudProperties}
		return nil
	})
	if err != nil {
		return "", err
	}
	return cid, nil
}

// DeleteStemcell implements cpi.Cloud.
func (c *Cloud) DeleteStemcell(ctx context.Context, stemcellCID string) error {
	return c.update(ctx, cpi.OpDeleteStemcell, func(s *state) error {
		if _, ok := s.Stemcells[stemcellCID]; !ok {
			return notFound("stemcell", stemcellCID)
		}
		delete(s.Stemcells, stemcellCID)
		return nil
	})
}

// CreateVM implements cpi.Cloud. Disk cids are placement hints only.
func (c *Cloud) CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProperties, networks cpi.Properties, diskCIDs []string, env cpi.Properties) (string, error) {
	if fail, _ := cloudProperties[FailCreateProperty].(bool); fail {
		return "", fault.NewCloud("Creating vm failed", false, nil)
	}

	cid := newCID("vm")
	err := c.update(ctx, cpi.OpCreateVM, func(s *state) error {
		if _, ok := s.Stemcells[stemcellCID]; !ok {
			return notFound("stemcell", stemcellCID)
		}
		s.VMs[cid] = &vmRecord{
			AgentID:         agentID,
			StemcellCID:     stemcellCID,
			CloudProperties: cloudProperties,
			Networks:        networks,
			Env:             env,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return cid, nil
}

// DeleteVM implements cpi.Cloud. Attached disks are detached.
func (c *Cloud) DeleteVM(ctx context.Context, vmCID string) error {
	return c.update(ctx, cpi.OpDeleteVM, func(s *state) error {
		if _, ok := s.VMs[vmCID]; !ok {
			return notFound("vm", vmCID)
		}
		for _, diskCID := range s.disksAttachedTo(vmCID) {
			s.Disks[diskCID].AttachedTo = ""
		}
		delete(s.VMs, vmCID)
		return nil
	})
}

// HasVM implements cpi.Cloud.
func (c *Cloud) HasVM(_ context.Context, vmCID string) (bool, error) {
	var found bool
	err := c.view(func(s *state) error {
		_, found = s.VMs[vmCID]
		return nil
	})
	return found, err
}

// RebootVM implements cpi.Cloud. Reboots are only counted.
func (c *Cloud) RebootVM(ctx context.Context, vmCID string) error {
	return c.update(ctx, cpi.OpRebootVM, func(s *state) error {
		vm, ok := s.VMs[vmCID]
		if !ok {
			return notFound("vm", vmCID)
		}
		vm.Reboots++
		return nil
	})
}

// SetVMMetadata implements cpi.Cloud.
func (c *Cloud) SetVMMetadata(ctx context.Context, vmCID string, metadata cpi.Properties) error {
	return c.update(ctx, cpi.OpSetVMMetadata, func(s *state) error {
		vm, ok := s.VMs[vmCID]
		if !ok {
			return notFound("vm", vmCID)
		}
		vm.Metadata = metadata
		return nil
	})
}

// CreateDisk implements cpi.Cloud.
func (c *Cloud) CreateDisk(ctx context.Context, size int, cloudProperties cpi.Properties, vmLocality string) (string, error) {
	if size <= 0 {
		return "", fault.NewInvalidArgument(fmt.Sprintf("disk size must be positive, got %d", size), nil)
	}

	cid := newCID("disk")
	err := c.update(ctx, cpi.OpCreateDisk, func(s *state) error {
		if vmLocality != "" {
			if _, ok := s.VMs[vmLocality]; !ok {
				return notFound("vm", vmLocality)
			}
		}
		s.Disks[cid] = &diskRecord{Size: size, CloudProperties: cloudProperties, VMLocality: vmLocality}
		return nil
	})
	if err != nil {
		return "", err
	}
	return cid, nil
}

// HasDisk implements cpi.Cloud.
func (c *Cloud) HasDisk(_ context.Context, diskCID string) (bool, error) {
	var found bool
	err := c.view(func(s *state) error {
		_, found = s.Disks[diskCID]
		return nil
	})
	return found, err
}

// DeleteDisk implements cpi.Cloud. Attached disks cannot be deleted.
func (c *Cloud) DeleteDisk(ctx context.Context, diskCID string) error {
	return c.update(ctx, cpi.OpDeleteDisk, func(s *state) error {
		d, ok := s.Disks[diskCID]
		if !ok {
			return notFound("disk", diskCID)
		}
		if d.AttachedTo != "" {
			return fault.NewCloud(fmt.Sprintf("disk %s is attached to vm %s", diskCID, d.AttachedTo), false, nil)
		}
		delete(s.Disks, diskCID)
		return nil
	})
}

// AttachDisk implements cpi.Cloud.
func (c *Cloud) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	return c.update(ctx, cpi.OpAttachDisk, func(s *state) error {
		if _, ok := s.VMs[vmCID]; !ok {
			return notFound("vm", vmCID)
		}
		d, ok := s.Disks[diskCID]
		if !ok {
			return notFound("disk", diskCID)
		}
		switch d.AttachedTo {
		case vmCID:
			return nil
		case "":
			d.AttachedTo = vmCID
			return nil
		default:
			return fault.NewCloud(fmt.Sprintf("%s is already attached to an instance", diskCID), false, nil)
		}
	})
}

// DetachDisk implements cpi.Cloud.
func (c *Cloud) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	return c.update(ctx, cpi.OpDetachDisk, func(s *state) error {
		if _, ok := s.VMs[vmCID]; !ok {
			return notFound("vm", vmCID)
		}
		d, ok := s.Disks[diskCID]
		if !ok {
			return notFound("disk", diskCID)
		}
		if d.AttachedTo != vmCID {
			return fault.NewCloud(fmt.Sprintf("%s is not attached to instance %s", diskCID, vmCID), false, nil)
		}
		d.AttachedTo = ""
		return nil
	})
}

// GetDisks implements cpi.Cloud.
func (c *Cloud) GetDisks(_ context.Context, vmCID string) ([]string, error) {
	var cids []string
	err := c.view(func(s *state) error {
		if _, ok := s.VMs[vmCID]; !ok {
			return notFound("vm", vmCID)
		}
		cids = s.disksAttachedTo(vmCID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(cids)
	if cids == nil {
		cids = []string{}
	}
	return cids, nil
}

// ResizeDisk implements cpi.Cloud. Disks only grow.
func (c *Cloud) ResizeDisk(ctx context.Context, diskCID string, newSize int) error {
	return c.update(ctx, cpi.OpResizeDisk, func(s *state) error {
		d, ok := s.Disks[diskCID]
		if !ok {
			return notFound("disk", diskCID)
		}
		if newSize < d.Size {
			return fault.NewCloud(fmt.Sprintf("cannot shrink disk %s from %d to %d", diskCID, d.Size, newSize), false, nil)
		}
		d.Size = newSize
		return nil
	})
}

// SetDiskMetadata implements cpi.Cloud.
func (c *Cloud) SetDiskMetadata(ctx context.Context, diskCID string, metadata cpi.Properties) error {
	return c.update(ctx, cpi.OpSetDiskMetadata, func(s *state) error {
		d, ok := s.Disks[diskCID]
		if !ok {
			return notFound("disk", diskCID)
		}
		d.Metadata = metadata
		return nil
	})
}

// SnapshotDisk implements cpi.Cloud.
func (c *Cloud) SnapshotDisk(ctx context.Context, diskCID string, metadata cpi.Properties) (string, error) {
	cid := newCID("snap")
	err := c.update(ctx, cpi.OpSnapshotDisk, func(s *state) error {
		if _, ok := s.Disks[diskCID]; !ok {
			return notFound("disk", diskCID)
		}
		s.Snapshots[cid] = &snapshotRecord{DiskCID: diskCID, Metadata: metadata}
		return nil
	})
	if err != nil {
		return "", err
	}
	return cid, nil
}

// DeleteSnapshot implements cpi.Cloud.
func (c *Cloud) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	return c.update(ctx, cpi.OpDeleteSnapshot, func(s *state) error {
		if _, ok := s.Snapshots[snapshotCID]; !ok {
			return notFound("snapshot", snapshotCID)
		}
		delete(s.Snapshots, snapshotCID)
		return nil
	})
}

// ValidateDeployment implements cpi.Cloud. Every change is acceptable.
func (c *Cloud) ValidateDeployment(context.Context, cpi.Properties, cpi.Properties) error {
	return nil
}

// CalculateVMCloudProperties implements cpi.Cloud by echoing the requested
// resources under a fixed instance type.
func (c *Cloud) CalculateVMCloudProperties(_ context.Context, vmResources cpi.Properties) (cpi.Properties, error) {
	props := cpi.Properties{"instance_type": "dummy"}
	for _, key := range []string{"cpu", "ram", "ephemeral_disk_size"} {
		if v, ok := vmResources[key]; ok {
			props[key] = v
		}
	}
	return props, nil
}
