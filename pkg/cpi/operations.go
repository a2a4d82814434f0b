package cpi

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/openfroyo/stratum/pkg/fault"
)

// Operation names one entry of the closed CPI operation set.
type Operation string

const (
	OpInfo                       Operation = "info"
	OpCurrentVMID                Operation = "current_vm_id"
	OpCreateStemcell             Operation = "create_stemcell"
	OpDeleteStemcell             Operation = "delete_stemcell"
	OpCreateVM                   Operation = "create_vm"
	OpDeleteVM                   Operation = "delete_vm"
	OpHasVM                      Operation = "has_vm"
	OpRebootVM                   Operation = "reboot_vm"
	OpSetVMMetadata              Operation = "set_vm_metadata"
	OpConfigureNetworks          Operation = "configure_networks"
	OpCreateDisk                 Operation = "create_disk"
	OpHasDisk                    Operation = "has_disk"
	OpDeleteDisk                 Operation = "delete_disk"
	OpAttachDisk                 Operation = "attach_disk"
	OpDetachDisk                 Operation = "detach_disk"
	OpGetDisks                   Operation = "get_disks"
	OpResizeDisk                 Operation = "resize_disk"
	OpSetDiskMetadata            Operation = "set_disk_metadata"
	OpSnapshotDisk               Operation = "snapshot_disk"
	OpDeleteSnapshot             Operation = "delete_snapshot"
	OpValidateDeployment         Operation = "validate_deployment"
	OpCalculateVMCloudProperties Operation = "calculate_vm_cloud_properties"
)

// ParamKind is the accepted type of one positional argument.
type ParamKind string

const (
	ParamString     ParamKind = "string"
	ParamInt        ParamKind = "integer"
	ParamObject     ParamKind = "object"
	ParamStringList ParamKind = "string list"
)

// Param describes one positional argument.
type Param struct {
	Name string
	Kind ParamKind

	// Optional parameters may be omitted or null. They only appear at the
	// end of a schema.
	Optional bool
}

var schemas = map[Operation][]Param{
	OpInfo:           {},
	OpCurrentVMID:    {},
	OpCreateStemcell: {{Name: "image_path", Kind: ParamString}, {Name: "cloud_properties", Kind: ParamObject}},
	OpDeleteStemcell: {{Name: "stemcell_cid", Kind: ParamString}},
	OpCreateVM: {
		{Name: "agent_id", Kind: ParamString},
		{Name: "stemcell_cid", Kind: ParamString},
		{Name: "cloud_properties", Kind: ParamObject},
		{Name: "networks", Kind: ParamObject},
		{Name: "disk_cids", Kind: ParamStringList, Optional: true},
		{Name: "env", Kind: ParamObject, Optional: true},
	},
	OpDeleteVM:          {{Name: "vm_cid", Kind: ParamString}},
	OpHasVM:             {{Name: "vm_cid", Kind: ParamString}},
	OpRebootVM:          {{Name: "vm_cid", Kind: ParamString}},
	OpSetVMMetadata:     {{Name: "vm_cid", Kind: ParamString}, {Name: "metadata", Kind: ParamObject}},
	OpConfigureNetworks: {{Name: "vm_cid", Kind: ParamString}, {Name: "networks", Kind: ParamObject}},
	OpCreateDisk: {
		{Name: "size", Kind: ParamInt},
		{Name: "cloud_properties", Kind: ParamObject},
		{Name: "vm_locality", Kind: ParamString, Optional: true},
	},
	OpHasDisk:                    {{Name: "disk_cid", Kind: ParamString}},
	OpDeleteDisk:                 {{Name: "disk_cid", Kind: ParamString}},
	OpAttachDisk:                 {{Name: "vm_cid", Kind: ParamString}, {Name: "disk_cid", Kind: ParamString}},
	OpDetachDisk:                 {{Name: "vm_cid", Kind: ParamString}, {Name: "disk_cid", Kind: ParamString}},
	OpGetDisks:                   {{Name: "vm_cid", Kind: ParamString}},
	OpResizeDisk:                 {{Name: "disk_cid", Kind: ParamString}, {Name: "new_size", Kind: ParamInt}},
	OpSetDiskMetadata:            {{Name: "disk_cid", Kind: ParamString}, {Name: "metadata", Kind: ParamObject}},
	OpSnapshotDisk:               {{Name: "disk_cid", Kind: ParamString}, {Name: "metadata", Kind: ParamObject}},
	OpDeleteSnapshot:             {{Name: "snapshot_cid", Kind: ParamString}},
	OpValidateDeployment:         {{Name: "old_manifest", Kind: ParamObject}, {Name: "new_manifest", Kind: ParamObject}},
	OpCalculateVMCloudProperties: {{Name: "vm_resources", Kind: ParamObject}},
}

// Operations returns every operation name in sorted order.
func Operations() []Operation {
	ops := make([]Operation, 0, len(schemas))
	for op := range schemas {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Validate checks that the operation is part of the set.
func (o Operation) Validate() error {
	if _, ok := schemas[o]; !ok {
		return fault.Newf(fault.KindInvalidArgument, "unknown CPI operation %q", string(o))
	}
	return nil
}

// Schema returns the positional parameters of the operation.
func (o Operation) Schema() []Param {
	return schemas[o]
}

// IsDeleteClass reports whether the operation removes or detaches a
// resource. A missing target on these operations means the work is
// already done.
func (o Operation) IsDeleteClass() bool {
	switch o {
	case OpDeleteVM, OpDeleteDisk, OpDetachDisk, OpDeleteSnapshot, OpDeleteStemcell:
		return true
	default:
		return false
	}
}

// Args are the positional arguments of a call.
type Args []interface{}

// ValidateArgs checks args against the operation's schema.
func ValidateArgs(op Operation, args Args) error {
	if err := op.Validate(); err != nil {
		return err
	}
	params := schemas[op]

	required := 0
	for _, p := range params {
		if !p.Optional {
			required++
		}
	}
	if len(args) < required || len(args) > len(params) {
		if required == len(params) {
			return fault.Newf(fault.KindInvalidArgument, "%s takes %d arguments, got %d", op, len(params), len(args)).
				WithOperation(string(op))
		}
		return fault.Newf(fault.KindInvalidArgument, "%s takes %d to %d arguments, got %d", op, required, len(params), len(args)).
			WithOperation(string(op))
	}

	for i, arg := range args {
		p := params[i]
		if arg == nil {
			if p.Optional {
				continue
			}
			return fault.Newf(fault.KindInvalidArgument, "%s: argument %d (%s) must not be null", op, i, p.Name).
				WithOperation(string(op))
		}
		if !matches(p.Kind, arg) {
			return fault.Newf(fault.KindInvalidArgument, "%s: argument %d (%s) must be a %s, got %T", op, i, p.Name, p.Kind, arg).
				WithOperation(string(op))
		}
	}
	return nil
}

func matches(kind ParamKind, v interface{}) bool {
	switch kind {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamInt:
		_, ok := toInt(v)
		return ok
	case ParamObject:
		_, ok := v.(map[string]interface{})
		return ok
	case ParamStringList:
		_, ok := toStrings(v)
		return ok
	default:
		return false
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

func toStrings(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// String returns argument i as a string, or "" when it is absent.
func (a Args) String(i int) string {
	if i >= len(a) {
		return ""
	}
	s, _ := a[i].(string)
	return s
}

// Int returns argument i as an int.
func (a Args) Int(i int) (int, error) {
	if i >= len(a) {
		return 0, fmt.Errorf("argument %d missing", i)
	}
	n, ok := toInt(a[i])
	if !ok {
		return 0, fmt.Errorf("argument %d is not an integer", i)
	}
	return n, nil
}

// Properties returns argument i as an object, or nil when it is absent.
func (a Args) Properties(i int) Properties {
	if i >= len(a) {
		return nil
	}
	m, _ := a[i].(map[string]interface{})
	return m
}

// Strings returns argument i as a string list, or nil when it is absent.
func (a Args) Strings(i int) []string {
	if i >= len(a) || a[i] == nil {
		return nil
	}
	s, _ := toStrings(a[i])
	return s
}
