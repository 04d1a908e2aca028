package provider

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldNames maps the roles the handlers need to event field names.
type FieldNames struct {
	Name          string `yaml:"name"`
	TID           string `yaml:"tid"`
	GPUID         string `yaml:"gpu_id"`
	DeviceID      string `yaml:"device_id"`
	QueueID       string `yaml:"queue_id"`
	StreamID      string `yaml:"stream_id"`
	CorrelationID string `yaml:"correlation_id"`
	End           string `yaml:"end"`
	Duration      string `yaml:"duration"`
	KernelName    string `yaml:"kernel_name"`
	Args          string `yaml:"args"`
	CID           string `yaml:"cid"`
}

// CounterSpec declares a numeric field of an event as a counter.
type CounterSpec struct {
	Event      string `yaml:"event"`
	Field      string `yaml:"field"`
	Name       string `yaml:"name"`  // attribute name; defaults to Field
	Group      string `yaml:"group"` // field selecting the counter group, usually the gpu id
	Cumulative bool   `yaml:"cumulative"`
}

// AttributeName returns the name of the counter attribute.
func (c CounterSpec) AttributeName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Field
}

// DispatchSpec tells where a dispatching API call carries its correlation id,
// target stream and kernel name within its args. Nil positions are not parsed.
type DispatchSpec struct {
	CorrelationArg *int `yaml:"correlation_arg,omitempty"`
	StreamArg      *int `yaml:"stream_arg,omitempty"`
	KernelArg      *int `yaml:"kernel_arg,omitempty"`
}

// Layout describes how event names and fields of a trace map to handlers.
// Loaded from YAML with strict field checking; every key must be listed here.
type Layout struct {
	Fields FieldNames `yaml:"fields"`

	APIEvents           []string      `yaml:"api_events"`
	BeginSuffixes       []string      `yaml:"begin_suffixes"`
	EndSuffixes         []string      `yaml:"end_suffixes"`
	KernelEvents        []string      `yaml:"kernel_events"`
	ActivityEvents      []string      `yaml:"activity_events"`
	KernelActivityNames []string      `yaml:"kernel_activity_names"`
	OpsEvents           []string      `yaml:"ops_events"`
	CopyEvents          []string      `yaml:"copy_events"`
	MetadataEvents      []string      `yaml:"metadata_events"`
	FunctionNameSuffix  string        `yaml:"function_name_suffix"`
	FlowStartEvents     []string      `yaml:"flow_start_events"`
	FlowEndEvents       []string      `yaml:"flow_end_events"`
	Counters            []CounterSpec `yaml:"counters"`

	DispatchFunctions map[string]DispatchSpec `yaml:"dispatch_functions"`
	WaitFunctions     []string                `yaml:"wait_functions"`
	DeviceFunctions   []string                `yaml:"device_functions"`

	GenericLane      string `yaml:"generic_lane"`
	DefaultStream    int64  `yaml:"default_stream"`
	ActivityLanes    bool   `yaml:"activity_lanes"`
	GapAnalysis      bool   `yaml:"gap_analysis"`
	WaitDependencies bool   `yaml:"wait_dependencies"`
	WaitHorizon      int64  `yaml:"wait_horizon"`
}

func intPtr(v int) *int { return &v }

// DefaultLayout covers ROCm runtime traces (HIP, HSA, KFD, roctx) and generic
// begin/end, kernel and flow events.
func DefaultLayout() *Layout {
	return &Layout{
		Fields: FieldNames{
			Name:          "name",
			TID:           "tid",
			GPUID:         "gpu_id",
			DeviceID:      "device_id",
			QueueID:       "queue_id",
			StreamID:      "stream_id",
			CorrelationID: "correlation_id",
			End:           "end",
			Duration:      "dur",
			KernelName:    "kernel_name",
			Args:          "args",
			CID:           "cid",
		},
		APIEvents:           []string{"hip_api", "hsa_api", "kfd_api", "roctx"},
		BeginSuffixes:       []string{"_enter", "_begin", "Begin"},
		EndSuffixes:         []string{"_exit", "_end", "End"},
		KernelEvents:        []string{"compute_kernels_hsa", "kernel"},
		ActivityEvents:      []string{"hip_activity", "hsa_activity"},
		KernelActivityNames: []string{"KernelExecution"},
		OpsEvents:           []string{"hcc_ops"},
		CopyEvents:          []string{"async_copy"},
		MetadataEvents:      []string{"gpu_info"},
		FunctionNameSuffix:  "_function_name",
		FlowStartEvents:     []string{"dispatch"},
		FlowEndEvents:       []string{"complete"},
		Counters:            []CounterSpec{},
		DispatchFunctions: map[string]DispatchSpec{
			"hipLaunchKernel":    {CorrelationArg: intPtr(7), StreamArg: intPtr(4), KernelArg: intPtr(6)},
			"hipExtLaunchKernel": {CorrelationArg: intPtr(7), StreamArg: intPtr(4), KernelArg: intPtr(6)},
			"hipMemcpy":          {CorrelationArg: intPtr(4)},
			"hipMemcpyAsync":     {},
		},
		WaitFunctions:   []string{"hipDeviceSynchronize"},
		DeviceFunctions: []string{"hipSetDevice", "hipGetDevice"},
		GenericLane:     "API",
		DefaultStream:   1,
		GapAnalysis:     true,
		WaitHorizon:     1_000_000_000,
	}
}

// ParseLayout decodes a layout over DefaultLayout: keys present in data replace defaults.
// Empty data gives the default layout.
// Uses strict field checking; typos are errors.
func ParseLayout(data []byte) (*Layout, error) {
	layout := DefaultLayout()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(layout); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing layout YAML: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

// LoadLayout reads and validates a layout file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	return ParseLayout(data)
}

// Marshal renders the layout as YAML.
func (l *Layout) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(l); err != nil {
		return nil, fmt.Errorf("encoding layout: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoding layout: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks the layout for inconsistent or missing settings.
func (l *Layout) Validate() error {
	if l.Fields.Name == "" || l.Fields.TID == "" {
		return fmt.Errorf("layout: fields.name and fields.tid are required")
	}
	if len(l.BeginSuffixes) != len(l.EndSuffixes) {
		return fmt.Errorf("layout: begin_suffixes and end_suffixes must pair up (%d vs %d)",
			len(l.BeginSuffixes), len(l.EndSuffixes))
	}
	for _, s := range append(append([]string{}, l.BeginSuffixes...), l.EndSuffixes...) {
		if s == "" {
			return fmt.Errorf("layout: empty begin/end suffix")
		}
	}
	if l.GenericLane == "" {
		return fmt.Errorf("layout: generic_lane must not be empty")
	}
	if l.WaitDependencies && l.WaitHorizon <= 0 {
		return fmt.Errorf("layout: wait_horizon must be > 0 when wait_dependencies is enabled, got %d", l.WaitHorizon)
	}
	seen := make(map[string]string)
	groups := []struct {
		name   string
		events []string
	}{
		{"api_events", l.APIEvents},
		{"kernel_events", l.KernelEvents},
		{"activity_events", l.ActivityEvents},
		{"ops_events", l.OpsEvents},
		{"copy_events", l.CopyEvents},
		{"metadata_events", l.MetadataEvents},
		{"flow_start_events", l.FlowStartEvents},
		{"flow_end_events", l.FlowEndEvents},
	}
	for _, g := range groups {
		for _, name := range g.events {
			if other, dup := seen[name]; dup {
				return fmt.Errorf("layout: event %q listed in both %s and %s", name, other, g.name)
			}
			seen[name] = g.name
		}
	}
	for i, c := range l.Counters {
		if c.Event == "" || c.Field == "" {
			return fmt.Errorf("layout: counters[%d] needs event and field", i)
		}
	}
	for fn, spec := range l.DispatchFunctions {
		for _, pos := range []*int{spec.CorrelationArg, spec.StreamArg, spec.KernelArg} {
			if pos != nil && *pos < 0 {
				return fmt.Errorf("layout: dispatch_functions.%s has negative arg position %d", fn, *pos)
			}
		}
	}
	return nil
}
