package netscen

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one serialized trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers information about a simulation model and an execution of that model
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, by packet id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(ExpName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = ExpName
	tm.NameByID = make(map[int]NameType)  // dictionary of id code -> (name,type)
	tm.Traces = make(map[int][]TraceInst) // traces are saved by the id of the packet they follow
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a trace record under execID
func (tm *TraceManager) AddTrace(vrt vrtime.Time, execID int, trace TraceInst) {

	// return if we aren't using the trace manager
	if !tm.InUse {
		return
	}
	tm.Traces[execID] = append(tm.Traces[execID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic(fmt.Errorf("duplicated id %d in AddName", id))
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// Nothing is written, and false returned, when the manager is not in use
func (tm *TraceManager) WriteToFile(filename string) (bool, error) {
	if !tm.InUse {
		return false, nil
	}
	bytes, merr := marshalByExt(filename, *tm)
	if merr != nil {
		return false, merr
	}
	if werr := os.WriteFile(filename, bytes, 0o644); werr != nil {
		return false, werr
	}
	return true, nil
}

// PacketTrace saves information about the visit of a packet to some point in the network,
// for post-run analysis
type PacketTrace struct {
	Time     float64 `json:"time" yaml:"time"`         // time in float64
	Ticks    int64   `json:"ticks" yaml:"ticks"`       // ticks variable of time
	Priority int64   `json:"priority" yaml:"priority"` // priority field of time-stamp
	PacketID int     `json:"packetid" yaml:"packetid"` // identifies the chain of traces this is part of
	ObjID    int     `json:"objid" yaml:"objid"`       // id of the node visited
	Intrfc   string  `json:"intrfc,omitempty" yaml:"intrfc,omitempty"`
	Op       string  `json:"op" yaml:"op"` // "tx", "rx", "deliver", "drop:<reason>"
	Src      string  `json:"src" yaml:"src"`
	Dst      string  `json:"dst" yaml:"dst"`
	TTL      uint8   `json:"ttl" yaml:"ttl"`
	Echo     bool    `json:"echo" yaml:"echo"` // true for a reply
}

// Serialize returns the yaml form of the record
func (ptr *PacketTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ptr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddPacketTrace creates a record of a packet seen at node (on intrfc, when known) and stores it
func (tm *TraceManager) AddPacketTrace(vrt vrtime.Time, pckt *packet, node *Node, intrfc *Interface, op string) {
	if !tm.InUse {
		return
	}
	ptr := new(PacketTrace)
	ptr.Time = vrt.Seconds()
	ptr.Ticks = vrt.Ticks()
	ptr.Priority = vrt.Pri()
	ptr.PacketID = pckt.id
	ptr.ObjID = node.ID
	if intrfc != nil {
		ptr.Intrfc = intrfc.Name()
	}
	ptr.Op = op
	ptr.Src = pckt.src.String()
	ptr.Dst = pckt.dst.String()
	ptr.TTL = pckt.ttl
	ptr.Echo = pckt.echo

	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: "packet", TraceStr: ptr.Serialize()}
	tm.AddTrace(vrt, ptr.PacketID, trcInst)
}

// marshalByExt serializes v as yaml or json according to the extension of filename
func marshalByExt(filename string, v any) ([]byte, error) {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return yaml.Marshal(v)
	case ".json", ".JSON":
		return json.MarshalIndent(v, "", "\t")
	}
	return nil, fmt.Errorf("%w: file %s needs a .yaml, .yml or .json extension", ErrConfiguration, filename)
}
