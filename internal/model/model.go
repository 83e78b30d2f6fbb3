package model

import (
	"path"
	"time"
)

// MachineStatus is the coarse machine state reported by the controller.
type MachineStatus string

const (
	StatusDisconnected MachineStatus = "disconnected"
	StatusStarting     MachineStatus = "starting"
	StatusUpdating     MachineStatus = "updating"
	StatusOff          MachineStatus = "off"
	StatusHalted       MachineStatus = "halted"
	StatusPausing      MachineStatus = "pausing"
	StatusPaused       MachineStatus = "paused"
	StatusResuming     MachineStatus = "resuming"
	StatusProcessing   MachineStatus = "processing"
	StatusSimulating   MachineStatus = "simulating"
	StatusBusy         MachineStatus = "busy"
	StatusChangingTool MachineStatus = "changingTool"
	StatusIdle         MachineStatus = "idle"
)

// ConfigFileName is the machine's startup configuration file, kept in the
// system directory. It gets a .bak sibling before being overwritten.
const ConfigFileName = "config.g"

// Board describes one controller board.
type Board struct {
	Name            string `json:"name"`
	ShortName       string `json:"shortName"`
	FirmwareName    string `json:"firmwareName"`
	FirmwareVersion string `json:"firmwareVersion"`
}

// SBC describes the companion computer attached to the machine, if any.
type SBC struct {
	Model   string `json:"model"`
	Version string `json:"version"`
}

// Plugin is a plugin manifest as reported by the machine.
type Plugin struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Author   string `json:"author"`
	Version  string `json:"version"`
	Homepage string `json:"homepage,omitempty"`
	License  string `json:"license,omitempty"`

	// Minimum versions required to load this plugin. Empty means no
	// requirement.
	ClientVersion    string `json:"clientVersion,omitempty"`
	FirmwareVersion  string `json:"firmwareVersion,omitempty"`
	CompanionVersion string `json:"companionVersion,omitempty"`

	// Dependencies lists plugin ids that must be loaded first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Files lists the client resource files shipped by the plugin.
	Files []string `json:"files,omitempty"`

	// Data holds plugin-defined key/value state.
	Data map[string]any `json:"data,omitempty"`
}

// Clone returns a deep copy so callers can hold plugin manifests without
// racing against model updates.
func (p *Plugin) Clone() *Plugin {
	if p == nil {
		return nil
	}
	c := *p
	c.Dependencies = append([]string(nil), p.Dependencies...)
	c.Files = append([]string(nil), p.Files...)
	if p.Data != nil {
		c.Data = make(map[string]any, len(p.Data))
		for k, v := range p.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Directories holds the machine's well-known directory paths.
type Directories struct {
	System    string `json:"system"`
	GCodes    string `json:"gCodes"`
	Macros    string `json:"macros"`
	Filaments string `json:"filaments"`
	Firmware  string `json:"firmware"`
	Plugins   string `json:"plugins"`
}

// DefaultDirectories returns the directory layout of a freshly set up
// machine.
func DefaultDirectories() Directories {
	return Directories{
		System:    "0:/sys",
		GCodes:    "0:/gcodes",
		Macros:    "0:/macros",
		Filaments: "0:/filaments",
		Firmware:  "0:/firmware",
		Plugins:   "0:/plugins",
	}
}

// FileEntry is one entry of a machine directory listing.
type FileEntry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	IsDirectory  bool      `json:"isDirectory"`
	LastModified time.Time `json:"lastModified"`
}

// ParsedFileInfo holds metadata extracted from a job file.
type ParsedFileInfo struct {
	FileName      string        `json:"fileName"`
	Size          int64         `json:"size"`
	LastModified  time.Time     `json:"lastModified"`
	Height        float64       `json:"height,omitempty"`
	LayerHeight   float64       `json:"layerHeight,omitempty"`
	NumLayers     int           `json:"numLayers,omitempty"`
	PrintTime     time.Duration `json:"printTime,omitempty"`
	SimulatedTime time.Duration `json:"simulatedTime,omitempty"`
	Filament      []float64     `json:"filament,omitempty"`
	GeneratedBy   string        `json:"generatedBy,omitempty"`
}

// Model is the slice of the machine object model this client reads.
type Model struct {
	Status      MachineStatus
	Boards      []Board
	SBC         *SBC
	Plugins     map[string]*Plugin
	Directories Directories
}

// JoinPath joins machine path segments. Machine paths always use forward
// slashes with a volume prefix, independent of the host OS.
func JoinPath(segments ...string) string {
	return path.Join(segments...)
}
