package cpi

import (
	"context"

	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
)

// NativeAdapter calls an in-process Cloud. It adds no locking; the backend
// must be safe for the concurrency the caller uses.
type NativeAdapter struct {
	name  string
	cloud Cloud
}

// NewNativeAdapter wraps cloud under the given backend name.
func NewNativeAdapter(name string, cloud Cloud) *NativeAdapter {
	return &NativeAdapter{name: name, cloud: cloud}
}

// Name returns the backend name.
func (a *NativeAdapter) Name() string {
	return a.name
}

// Cloud returns the wrapped backend.
func (a *NativeAdapter) Cloud() Cloud {
	return a.cloud
}

// Call invokes the Cloud method matching op. Results are returned as the
// backend produced them; operations without a result return nil.
func (a *NativeAdapter) Call(ctx context.Context, op Operation, args Args, oc opctx.Context) (interface{}, error) {
	ctx = opctx.WithContext(ctx, oc)
	c := a.cloud

	switch op {
	case OpInfo:
		return c.Info(ctx)
	case OpCurrentVMID:
		return c.CurrentVMID(ctx)
	case OpCreateStemcell:
		return c.CreateStemcell(ctx, args.String(0), args.Properties(1))
	case OpDeleteStemcell:
		return nil, c.DeleteStemcell(ctx, args.String(0))
	case OpCreateVM:
		return c.CreateVM(ctx, args.String(0), args.String(1), args.Properties(2), args.Properties(3), args.Strings(4), args.Properties(5))
	case OpDeleteVM:
		return nil, c.DeleteVM(ctx, args.String(0))
	case OpHasVM:
		return c.HasVM(ctx, args.String(0))
	case OpRebootVM:
		return nil, c.RebootVM(ctx, args.String(0))
	case OpSetVMMetadata:
		return nil, c.SetVMMetadata(ctx, args.String(0), args.Properties(1))
	case OpConfigureNetworks:
		return nil, c.ConfigureNetworks(ctx, args.String(0), args.Properties(1))
	case OpCreateDisk:
		size, err := args.Int(0)
		if err != nil {
			return nil, fault.NewInvalidArgument("invalid disk size", err).WithOperation(string(op))
		}
		return c.CreateDisk(ctx, size, args.Properties(1), args.String(2))
	case OpHasDisk:
		return c.HasDisk(ctx, args.String(0))
	case OpDeleteDisk:
		return nil, c.DeleteDisk(ctx, args.String(0))
	case OpAttachDisk:
		return nil, c.AttachDisk(ctx, args.String(0), args.String(1))
	case OpDetachDisk:
		return nil, c.DetachDisk(ctx, args.String(0), args.String(1))
	case OpGetDisks:
		return c.GetDisks(ctx, args.String(0))
	case OpResizeDisk:
		size, err := args.Int(1)
		if err != nil {
			return nil, fault.NewInvalidArgument("invalid disk size", err).WithOperation(string(op))
		}
		return nil, c.ResizeDisk(ctx, args.String(0), size)
	case OpSetDiskMetadata:
		return nil, c.SetDiskMetadata(ctx, args.String(0), args.Properties(1))
	case OpSnapshotDisk:
		return c.SnapshotDisk(ctx, args.String(0), args.Properties(1))
	case OpDeleteSnapshot:
		return nil, c.DeleteSnapshot(ctx, args.String(0))
	case OpValidateDeployment:
		return nil, c.ValidateDeployment(ctx, args.Properties(0), args.Properties(1))
	case OpCalculateVMCloudProperties:
		return c.CalculateVMCloudProperties(ctx, args.Properties(0))
	default:
		return nil, notImplemented(op)
	}
}
