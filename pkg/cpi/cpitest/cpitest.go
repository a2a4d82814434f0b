// Package cpitest provides a recording in-memory Cloud and argument
// helpers for tests of code built on the cpi package.
package cpitest

import (
	"context"
	"sync"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/opctx"
)

// Call is one recorded backend invocation.
type Call struct {
	Op      cpi.Operation
	Context opctx.Context
	Args    []interface{}
}

// FakeCloud implements cpi.Cloud with canned results. Errors and Panics
// make individual operations fail.
type FakeCloud struct {
	mu     sync.Mutex
	calls  []Call
	Errors map[cpi.Operation]error
	Panics map[cpi.Operation]interface{}
}

// NewFakeCloud creates a FakeCloud that succeeds on every operation.
func NewFakeCloud() *FakeCloud {
	return &FakeCloud{
		Errors: make(map[cpi.Operation]error),
		Panics: make(map[cpi.Operation]interface{}),
	}
}

// Calls returns a copy of the recorded calls.
func (f *FakeCloud) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeCloud) record(ctx context.Context, op cpi.Operation, args ...interface{}) error {
	oc, _ := opctx.FromContext(ctx)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Context: oc, Args: args})
	p, shouldPanic := f.Panics[op]
	err := f.Errors[op]
	f.mu.Unlock()

	if shouldPanic {
		panic(p)
	}
	return err
}

// Result returns the canned result FakeCloud produces for op.
func Result(op cpi.Operation) interface{} {
	switch op {
	case cpi.OpInfo:
		return cpi.Info{StemcellFormats: []string{"fake-raw"}, APIVersion: 2}
	case cpi.OpCurrentVMID:
		return "vm-current"
	case cpi.OpCreateStemcell:
		return "stemcell-1"
	case cpi.OpCreateVM:
		return "vm-1"
	case cpi.OpHasVM, cpi.OpHasDisk:
		return true
	case cpi.OpCreateDisk:
		return "disk-1"
	case cpi.OpGetDisks:
		return []string{"disk-1", "disk-2"}
	case cpi.OpSnapshotDisk:
		return "snap-1"
	case cpi.OpCalculateVMCloudProperties:
		return cpi.Properties{"instance_type": "m1.small"}
	default:
		return nil
	}
}

// SampleArgs returns well-formed arguments for op, filling every
// parameter including optional ones.
func SampleArgs(op cpi.Operation) cpi.Args {
	var args cpi.Args
	for _, p := range op.Schema() {
		switch p.Kind {
		case cpi.ParamString:
			args = append(args, p.Name+"-value")
		case cpi.ParamInt:
			args = append(args, 1024)
		case cpi.ParamObject:
			args = append(args, map[string]interface{}{"key": p.Name})
		case cpi.ParamStringList:
			args = append(args, []interface{}{"disk-a"})
		}
	}
	return args
}

func (f *FakeCloud) Info(ctx context.Context) (cpi.Info, error) {
	if err := f.record(ctx, cpi.OpInfo); err != nil {
		return cpi.Info{}, err
	}
	return Result(cpi.OpInfo).(cpi.Info), nil
}

func (f *FakeCloud) CurrentVMID(ctx context.Context) (string, error) {
	if err := f.record(ctx, cpi.OpCurrentVMID); err != nil {
		return "", err
	}
	return Result(cpi.OpCurrentVMID).(string), nil
}

func (f *FakeCloud) CreateStemcell(ctx context.Context, imagePath string, props cpi.Properties) (string, error) {
	if err := f.record(ctx, cpi.OpCreateStemcell, imagePath, props); err != nil {
		return "", err
	}
	return Result(cpi.OpCreateStemcell).(string), nil
}

func (f *FakeCloud) DeleteStemcell(ctx context.Context, cid string) error {
	return f.record(ctx, cpi.OpDeleteStemcell, cid)
}

func (f *FakeCloud) CreateVM(ctx context.Context, agentID, stemcellCID string, props, networks cpi.Properties, diskCIDs []string, env cpi.Properties) (string, error) {
	if err := f.record(ctx, cpi.OpCreateVM, agentID, stemcellCID, props, networks, diskCIDs, env); err != nil {
		return "", err
	}
	return Result(cpi.OpCreateVM).(string), nil
}

func (f *FakeCloud) DeleteVM(ctx context.Context, vmCID string) error {
	return f.record(ctx, cpi.OpDeleteVM, vmCID)
}

func (f *FakeCloud) HasVM(ctx context.Context, vmCID string) (bool, error) {
	if err := f.record(ctx, cpi.OpHasVM, vmCID); err != nil {
		return false, err
	}
	return true, nil
}

func (f *FakeCloud) RebootVM(ctx context.Context, vmCID string) error {
	return f.record(ctx, cpi.OpRebootVM, vmCID)
}

func (f *FakeCloud) SetVMMetadata(ctx context.Context, vmCID string, metadata cpi.Properties) error {
	return f.record(ctx, cpi.OpSetVMMetadata, vmCID, metadata)
}

func (f *FakeCloud) ConfigureNetworks(ctx context.Context, vmCID string, networks cpi.Properties) error {
	return f.record(ctx, cpi.OpConfigureNetworks, vmCID, networks)
}

func (f *FakeCloud) CreateDisk(ctx context.Context, size int, props cpi.Properties, vmLocality string) (string, error) {
	if err := f.record(ctx, cpi.OpCreateDisk, size, props, vmLocality); err != nil {
		return "", err
	}
	return Result(cpi.OpCreateDisk).(string), nil
}

func (f *FakeCloud) HasDisk(ctx context.Context, diskCID string) (bool, error) {
	if err := f.record(ctx, cpi.OpHasDisk, diskCID); err != nil {
		return false, err
	}
	return true, nil
}

func (f *FakeCloud) DeleteDisk(ctx context.Context, diskCID string) error {
	return f.record(ctx, cpi.OpDeleteDisk, diskCID)
}

func (f *FakeCloud) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	return f.record(ctx, cpi.OpAttachDisk, vmCID, diskCID)
}

func (f *FakeCloud) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	return f.record(ctx, cpi.OpDetachDisk, vmCID, diskCID)
}

func (f *FakeCloud) GetDisks(ctx context.Context, vmCID string) ([]string, error) {
	if err := f.record(ctx, cpi.OpGetDisks, vmCID); err != nil {
		return nil, err
	}
	return Result(cpi.OpGetDisks).([]string), nil
}

func (f *FakeCloud) ResizeDisk(ctx context.Context, diskCID string, newSize int) error {
	return f.record(ctx, cpi.OpResizeDisk, diskCID, newSize)
}

func (f *FakeCloud) SetDiskMetadata(ctx context.Context, diskCID string, metadata cpi.Properties) error {
	return f.record(ctx, cpi.OpSetDiskMetadata, diskCID, metadata)
}

func (f *FakeCloud) SnapshotDisk(ctx context.Context, diskCID string, metadata cpi.Properties) (string, error) {
	if err := f.record(ctx, cpi.OpSnapshotDisk, diskCID, metadata); err != nil {
		return "", err
	}
	return Result(cpi.OpSnapshotDisk).(string), nil
}

func (f *FakeCloud) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	return f.record(ctx, cpi.OpDeleteSnapshot, snapshotCID)
}

func (f *FakeCloud) ValidateDeployment(ctx context.Context, oldManifest, newManifest cpi.Properties) error {
	return f.record(ctx, cpi.OpValidateDeployment, oldManifest, newManifest)
}

func (f *FakeCloud) CalculateVMCloudProperties(ctx context.Context, vmResources cpi.Properties) (cpi.Properties, error) {
	if err := f.record(ctx, cpi.OpCalculateVMCloudProperties, vmResources); err != nil {
		return nil, err
	}
	return Result(cpi.OpCalculateVMCloudProperties).(cpi.Properties), nil
}

var _ cpi.Cloud = (*FakeCloud)(nil)
