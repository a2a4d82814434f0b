package dummy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const stateFile = "state.yaml"

type stemcellRecord struct {
	ImagePath       string                 `yaml:"image_path"`
	CloudProperties map[string]interface{} `yaml:"cloud_properties,omitempty"`
}

type vmRecord struct {
	AgentID         string                 `yaml:"agent_id"`
	StemcellCID     string                 `yaml:"stemcell_cid"`
	CloudProperties map[string]interface{} `yaml:"cloud_properties,omitempty"`
	Networks        map[string]interface{} `yaml:"networks,omitempty"`
	Env             map[string]interface{} `yaml:"env,omitempty"`
	Metadata        map[string]interface{} `yaml:"metadata,omitempty"`
	Reboots         int                    `yaml:"reboots,omitempty"`
}

type diskRecord struct {
	Size            int                    `yaml:"size"`
	CloudProperties map[string]interface{} `yaml:"cloud_properties,omitempty"`
	VMLocality      string                 `yaml:"vm_locality,omitempty"`
	AttachedTo      string                 `yaml:"attached_to,omitempty"`
	Metadata        map[string]interface{} `yaml:"metadata,omitempty"`
}

type snapshotRecord struct {
	DiskCID  string                 `yaml:"disk_cid"`
	Metadata map[string]interface{} `yaml:"metadata,omitempty"`
}

// state is everything the dummy cloud knows, persisted as one YAML file so
// that separate processes serving the same directory agree.
type state struct {
	Stemcells map[string]*stemcellRecord `yaml:"stemcells"`
	VMs       map[string]*vmRecord       `yaml:"vms"`
	Disks     map[string]*diskRecord     `yaml:"disks"`
	Snapshots map[string]*snapshotRecord `yaml:"snapshots"`
}

func newState() *state {
	return &state{
		Stemcells: make(map[string]*stemcellRecord),
		VMs:       make(map[string]*vmRecord),
		Disks:     make(map[string]*diskRecord),
		Snapshots: make(map[string]*snapshotRecord),
	}
}

func loadState(dir string) (*state, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if errors.Is(err, os.ErrNotExist) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dummy state: %w", err)
	}

	s := newState()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse dummy state: %w", err)
	}
	// yaml leaves maps nil when the document has an empty section
	if s.Stemcells == nil {
		s.Stemcells = make(map[string]*stemcellRecord)
	}
	if s.VMs == nil {
		s.VMs = make(map[string]*vmRecord)
	}
	if s.Disks == nil {
		s.Disks = make(map[string]*diskRecord)
	}
	if s.Snapshots == nil {
		s.Snapshots = make(map[string]*snapshotRecord)
	}
	return s, nil
}

func (s *state) save(dir string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal dummy state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write dummy state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write dummy state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write dummy state: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, stateFile)); err != nil {
		return fmt.Errorf("failed to write dummy state: %w", err)
	}
	return nil
}

func (s *state) disksAttachedTo(vmCID string) []string {
	var cids []string
	for cid, d := range s.Disks {
		if d.AttachedTo == vmCID {
			cids = append(cids, cid)
		}
	}
	return cids
}
