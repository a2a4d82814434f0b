// Package cpi defines the Cloud Provider Interface: the closed set of
// infrastructure operations, the Cloud interface every native backend
// implements, and the Adapter interface the dispatcher calls through.
package cpi

import (
	"context"

	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
)

// Properties is an arbitrary JSON-shaped object such as cloud properties,
// network specs, metadata or env.
type Properties = map[string]interface{}

// Info describes a backend.
type Info struct {
	// StemcellFormats lists the image formats create_stemcell accepts.
	StemcellFormats []string `json:"stemcell_formats"`

	// APIVersion is the highest wire protocol version the backend speaks.
	APIVersion int `json:"api_version,omitempty"`
}

// Cloud is implemented by every in-process backend. Each method maps to
// one operation. A backend that does not support an operation returns a
// fault.KindNotImplemented error; missing resources are reported with
// fault.KindNotFound.
type Cloud interface {
	Info(ctx context.Context) (Info, error)
	CurrentVMID(ctx context.Context) (string, error)

	CreateStemcell(ctx context.Context, imagePath string, cloudProperties Properties) (string, error)
	DeleteStemcell(ctx context.Context, stemcellCID string) error

	CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProperties, networks Properties, diskCIDs []string, env Properties) (string, error)
	DeleteVM(ctx context.Context, vmCID string) error
	HasVM(ctx context.Context, vmCID string) (bool, error)
	RebootVM(ctx context.Context, vmCID string) error
	SetVMMetadata(ctx context.Context, vmCID string, metadata Properties) error
	ConfigureNetworks(ctx context.Context, vmCID string, networks Properties) error

	CreateDisk(ctx context.Context, size int, cloudProperties Properties, vmLocality string) (string, error)
	HasDisk(ctx context.Context, diskCID string) (bool, error)
	DeleteDisk(ctx context.Context, diskCID string) error
	AttachDisk(ctx context.Context, vmCID, diskCID string) error
	DetachDisk(ctx context.Context, vmCID, diskCID string) error
	GetDisks(ctx context.Context, vmCID string) ([]string, error)
	ResizeDisk(ctx context.Context, diskCID string, newSize int) error
	SetDiskMetadata(ctx context.Context, diskCID string, metadata Properties) error

	SnapshotDisk(ctx context.Context, diskCID string, metadata Properties) (string, error)
	DeleteSnapshot(ctx context.Context, snapshotCID string) error

	ValidateDeployment(ctx context.Context, oldManifest, newManifest Properties) error
	CalculateVMCloudProperties(ctx context.Context, vmResources Properties) (Properties, error)
}

// Adapter forwards validated calls to one backend.
type Adapter interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Call runs op with already validated args.
	Call(ctx context.Context, op Operation, args Args, oc opctx.Context) (interface{}, error)
}

// Unimplemented reports every operation as not implemented. Backends embed
// it to pick up the operations they do not support.
type Unimplemented struct{}

func notImplemented(op Operation) error {
	return fault.Newf(fault.KindNotImplemented, "operation %s is not supported by this backend", op).
		WithOperation(string(op))
}

func (Unimplemented) Info(context.Context) (Info, error) { return Info{}, notImplemented(OpInfo) }
func (Unimplemented) CurrentVMID(context.Context) (string, error) {
	return "", notImplemented(OpCurrentVMID)
}
func (Unimplemented) CreateStemcell(context.Context, string, Properties) (string, error) {
	return "", notImplemented(OpCreateStemcell)
}
func (Unimplemented) DeleteStemcell(context.Context, string) error {
	return notImplemented(OpDeleteStemcell)
}
func (Unimplemented) CreateVM(context.Context, string, string, Properties, Properties, []string, Properties) (string, error) {
	return "", notImplemented(OpCreateVM)
}
func (Unimplemented) DeleteVM(context.Context, string) error { return notImplemented(OpDeleteVM) }
func (Unimplemented) HasVM(context.Context, string) (bool, error) {
	return false, notImplemented(OpHasVM)
}
func (Unimplemented) RebootVM(context.Context, string) error { return notImplemented(OpRebootVM) }
func (Unimplemented) SetVMMetadata(context.Context, string, Properties) error {
	return notImplemented(OpSetVMMetadata)
}
func (Unimplemented) ConfigureNetworks(context.Context, string, Properties) error {
	return notImplemented(OpConfigureNetworks)
}
func (Unimplemented) CreateDisk(context.Context, int, Properties, string) (string, error) {
	return "", notImplemented(OpCreateDisk)
}
func (Unimplemented) HasDisk(context.Context, string) (bool, error) {
	return false, notImplemented(OpHasDisk)
}
func (Unimplemented) DeleteDisk(context.Context, string) error { return notImplemented(OpDeleteDisk) }
func (Unimplemented) AttachDisk(context.Context, string, string) error {
	return notImplemented(OpAttachDisk)
}
func (Unimplemented) DetachDisk(context.Context, string, string) error {
	return notImplemented(OpDetachDisk)
}
func (Unimplemented) GetDisks(context.Context, string) ([]string, error) {
	return nil, notImplemented(OpGetDisks)
}
func (Unimplemented) ResizeDisk(context.Context, string, int) error {
	return notImplemented(OpResizeDisk)
}
func (Unimplemented) SetDiskMetadata(context.Context, string, Properties) error {
	return notImplemented(OpSetDiskMetadata)
}
func (Unimplemented) SnapshotDisk(context.Context, string, Properties) (string, error) {
	return "", notImplemented(OpSnapshotDisk)
}
func (Unimplemented) DeleteSnapshot(context.Context, string) error {
	return notImplemented(OpDeleteSnapshot)
}
func (Unimplemented) ValidateDeployment(context.Context, Properties, Properties) error {
	return notImplemented(OpValidateDeployment)
}
func (Unimplemented) CalculateVMCloudProperties(context.Context, Properties) (Properties, error) {
	return nil, notImplemented(OpCalculateVMCloudProperties)
}

var _ Cloud = Unimplemented{}
