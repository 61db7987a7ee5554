package protocol

import "fmt"

// BAM frame identifiers (host -> device and the device's echo).
const (
	IDPassword     = 0x011
	IDPasswordEcho = 0x001
	IDHeader       = 0x012
	IDHeaderEcho   = 0x002
	IDData         = 0x013
	IDDataEcho     = 0x003
)

// Monitor profile frame identifiers
const (
	IDSync        = 0x010
	IDSyncAck     = 0x000
	IDFinalStatus = 0x004
	IDExecute     = 0x014
)

// SyncMarker is the single payload byte of a sync probe.
const SyncMarker = 0x5A

// DefaultEntryAddress is the RAM address the reference loader always used.
const DefaultEntryAddress = 0x40000100

// VLEFlag marks the image as VLE code in the size word of the header.
const VLEFlag = 0x80000000

// MaxImageLength is the largest length that fits next to the VLE flag.
const MaxImageLength = 0x7FFFFFFF

// FrameCapacity is the payload capacity of a classical CAN frame.
const FrameCapacity = 8

// Status is a response code decoded from a device frame.
type Status byte

const (
	StatusAck          Status = 0x00
	StatusNack         Status = 0x01
	StatusChecksumFail Status = 0x02
	StatusUnknown      Status = 0xFF
)

// String returns a human-readable status name
func (s Status) String() string {
	switch s {
	case StatusAck:
		return "ack"
	case StatusNack:
		return "nack"
	case StatusChecksumFail:
		return "checksum-fail"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(0x%02X)", byte(s))
	}
}

// Profile describes which optional frames a device understands.
type Profile struct {
	Name        string
	SyncProbe   bool // device answers sync probes on IDSync/IDSyncAck
	FinalStatus bool // device reports a checksum status after the last block
	Execute     bool // device waits for an explicit execute frame
}

var (
	// ProfileBAM is the stock Boot Assist Module: password, header and data
	// echoes only. Execution starts automatically after the last byte.
	ProfileBAM = Profile{Name: "bam"}

	// ProfileMonitor adds sync, final status and execute frames.
	ProfileMonitor = Profile{Name: "monitor", SyncProbe: true, FinalStatus: true, Execute: true}
)

// Profiles lists the built-in profiles by name.
var Profiles = map[string]Profile{
	ProfileBAM.Name:     ProfileBAM,
	ProfileMonitor.Name: ProfileMonitor,
}

// LookupProfile returns the built-in profile with the given name.
func LookupProfile(name string) (Profile, error) {
	if p, ok := Profiles[name]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("unknown protocol profile %q (want \"bam\" or \"monitor\")", name)
}
