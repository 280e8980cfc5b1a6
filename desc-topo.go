package netscen

// desc-topo.go holds the serializable, pointer-free description of a built
// scenario, and helpers that probe the file system for output locations

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeDesc defines a serializable description of a node
type NodeDesc struct {
	ID    int    `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Role  string `json:"role" yaml:"role"`
	Index int    `json:"index" yaml:"index"`
}

// LinkDesc defines a serializable description of a link
type LinkDesc struct {
	ID       int      `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Kind     string   `json:"kind" yaml:"kind"`
	DataRate uint64   `json:"datarate" yaml:"datarate"`
	Delay    string   `json:"delay" yaml:"delay"`
	Block    string   `json:"block" yaml:"block"`
	Mask     string   `json:"mask" yaml:"mask"`
	Nodes    []string `json:"nodes" yaml:"nodes"` // in attachment order
}

// IntrfcDesc defines a serializable description of a network interface
type IntrfcDesc struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`

	// name of the node on which this interface is resident
	Device string `json:"device" yaml:"device"`

	// name of the link the interface attaches to
	Faces string `json:"faces" yaml:"faces"`

	Addr string `json:"addr" yaml:"addr"`
	MAC  string `json:"mac" yaml:"mac"`
}

// RouteDesc defines a serializable description of a forwarding table entry
type RouteDesc struct {
	Dest    string `json:"dest" yaml:"dest"`
	NextHop string `json:"nexthop,omitempty" yaml:"nexthop,omitempty"` // empty when directly connected
	Intrfc  string `json:"intrfc" yaml:"intrfc"`
	Metric  int    `json:"metric" yaml:"metric"`
}

// AppDesc defines a serializable description of an application
type AppDesc struct {
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	Device     string `json:"device" yaml:"device"`
	Addr       string `json:"addr" yaml:"addr"` // listening address of a server, target of a client
	Start      string `json:"start" yaml:"start"`
	Stop       string `json:"stop" yaml:"stop"`
	MaxPackets uint32 `json:"maxpackets,omitempty" yaml:"maxpackets,omitempty"`
	Interval   string `json:"interval,omitempty" yaml:"interval,omitempty"`
	PacketSize uint32 `json:"packetsize,omitempty" yaml:"packetsize,omitempty"`
}

// CaptureDesc defines a serializable description of a trace binding
type CaptureDesc struct {
	Link   string `json:"link" yaml:"link"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

// ScenarioDesc is the complete description of a built scenario.  Two builds
// from identical parameters have identical descriptions
type ScenarioDesc struct {
	Name        string                 `json:"name" yaml:"name"`
	Nodes       []NodeDesc             `json:"nodes" yaml:"nodes"`
	Links       []LinkDesc             `json:"links" yaml:"links"`
	Intrfcs     []IntrfcDesc           `json:"intrfcs" yaml:"intrfcs"`
	Routes      map[string][]RouteDesc `json:"routes" yaml:"routes"` // by node name
	Apps        []AppDesc              `json:"apps" yaml:"apps"`
	Captures    []CaptureDesc          `json:"captures" yaml:"captures"`
	StartMargin string                 `json:"startmargin" yaml:"startmargin"`
}

// Transform converts a Scenario and returns a ScenarioDesc, for serialization.
func (sc *Scenario) Transform(name string) ScenarioDesc {
	sd := ScenarioDesc{
		Name:        name,
		Nodes:       make([]NodeDesc, 0),
		Links:       make([]LinkDesc, 0),
		Intrfcs:     make([]IntrfcDesc, 0),
		Routes:      make(map[string][]RouteDesc),
		Apps:        make([]AppDesc, 0),
		Captures:    make([]CaptureDesc, 0),
		StartMargin: sc.StartMargin().String(),
	}
	topo := sc.Topology()

	for _, node := range topo.Nodes() {
		sd.Nodes = append(sd.Nodes, NodeDesc{ID: node.ID, Name: node.Name, Role: node.Role.String(), Index: node.Index})

		routes := []RouteDesc{}
		for _, entry := range sc.ForwardingTable(node).Entries() {
			rd := RouteDesc{Dest: entry.Dest.String(), Intrfc: entry.Interface.Name(), Metric: entry.Metric}
			if !entry.Direct() {
				rd.NextHop = entry.NextHop.String()
			}
			routes = append(routes, rd)
		}
		if len(routes) > 0 {
			sd.Routes[node.Name] = routes
		}
	}

	for _, link := range topo.Links() {
		ld := LinkDesc{
			ID:       link.ID,
			Name:     link.Name,
			Kind:     link.Kind.String(),
			DataRate: link.Attrs.DataRate,
			Delay:    link.Attrs.Delay.String(),
			Block:    sc.Block(link).Prefix.String(),
			Mask:     sc.Block(link).Mask(),
			Nodes:    make([]string, 0, len(link.Nodes())),
		}
		for _, node := range link.Nodes() {
			ld.Nodes = append(ld.Nodes, node.Name)
		}
		sd.Links = append(sd.Links, ld)
	}

	for _, intrfc := range sc.Interfaces() {
		sd.Intrfcs = append(sd.Intrfcs, IntrfcDesc{
			Index:  intrfc.Index,
			Name:   intrfc.Name(),
			Device: intrfc.Node.Name,
			Faces:  intrfc.Link.Name,
			Addr:   intrfc.Addr.String(),
			MAC:    intrfc.MAC.String(),
		})
	}

	for _, app := range sc.Applications() {
		ad := AppDesc{
			Name:   app.Name,
			Kind:   app.Kind.String(),
			Device: app.Node.Name,
			Addr:   app.Addr.String(),
			Start:  app.Start.String(),
			Stop:   app.Stop.String(),
		}
		if app.Kind == EchoClient {
			ad.MaxPackets = app.MaxPackets
			ad.Interval = app.Interval.String()
			ad.PacketSize = app.PacketSize
		}
		sd.Apps = append(sd.Apps, ad)
	}

	for _, binding := range sc.Bindings() {
		sd.Captures = append(sd.Captures, CaptureDesc{Link: binding.Link.Name, Prefix: binding.Prefix})
	}
	return sd
}

// WriteToFile stores the ScenarioDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sd *ScenarioDesc) WriteToFile(filename string) error {
	bytes, merr := marshalByExt(filename, *sd)
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// ReadScenarioDesc deserializes a byte slice holding a representation of a ScenarioDesc struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadScenarioDesc(filename string, useYAML bool, dict []byte) (*ScenarioDesc, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ScenarioDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// CheckDirectories probes the file system for the existence
// of every directory listed in the list of files.  Returns a boolean
// indicating whether all dirs are valid, and returns an aggregated error
// if any checks failed.
func CheckDirectories(dirs []string) (bool, error) {
	// make sure that every directory name included exists
	failures := []string{}

	// for every offered (non-empty) directory
	for _, dir := range dirs {
		if len(dir) == 0 {
			continue
		}

		info, err := os.Stat(dir)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s not reachable", dir))

			continue
		}
		if !info.IsDir() {
			failures = append(failures, fmt.Sprintf("%s not a directory", dir))
		}
	}
	if len(failures) == 0 {
		return true, nil
	}

	err := errors.New(strings.Join(failures, ","))

	return false, err
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that the directory
// of every argument filename exists, so the file can be written
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	// make sure that the directory of each named file exists
	errs := make([]error, 0)

	for _, name := range names {

		// skip empty names
		if len(name) == 0 {
			continue
		}

		// split off the directory portion of the path
		directory, _ := filepath.Split(name)
		if directory == "" {
			directory = "."
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
		}

		// if required, check for the reachability and existence of the file
		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
