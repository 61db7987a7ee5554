package simulator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/muurk/bamload/internal/protocol"
)

// ParseBehavior parses a comma-separated behavior description as used by
// the virtual interface and "bamload serve virtual":
//
//	monitor                       profile name (bam or monitor)
//	password=0011223344556677     accepted password
//	drop-sync=3                   ignore the first 3 sync probes
//	lose=4:2                      ignore data block 4 twice (count defaults to 1)
//	nack=7                        answer data block 7 with a bad echo once
//	bad-checksum                  report checksum-fail in the final status
//	wrong-checksum                report ok with a mismatching checksum
//	no-final                      never send the final status
//	silent                        answer nothing
//
// An empty string yields the zero Behavior (stock BAM, default password).
func ParseBehavior(s string) (Behavior, error) {
	var b Behavior
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, hasValue := strings.Cut(item, "=")

		switch key {
		case protocol.ProfileBAM.Name, protocol.ProfileMonitor.Name:
			b.Profile = protocol.Profiles[key]
		case "password":
			pw, err := protocol.ParsePassword(value)
			if err != nil {
				return Behavior{}, fmt.Errorf("simulator password: %w", err)
			}
			b.Password = pw
		case "drop-sync":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Behavior{}, fmt.Errorf("simulator drop-sync: invalid count %q", value)
			}
			b.DropSyncReplies = n
		case "lose", "nack":
			if !hasValue {
				return Behavior{}, fmt.Errorf("simulator %s: block index required", key)
			}
			block, count, err := parseBlockCount(value)
			if err != nil {
				return Behavior{}, fmt.Errorf("simulator %s: %w", key, err)
			}
			if key == "lose" {
				if b.IgnoreBlocks == nil {
					b.IgnoreBlocks = make(map[int]int)
				}
				b.IgnoreBlocks[block] += count
			} else {
				if b.NackBlocks == nil {
					b.NackBlocks = make(map[int]int)
				}
				b.NackBlocks[block] += count
			}
		case "bad-checksum":
			b.CorruptChecksum = true
		case "wrong-checksum":
			b.WrongChecksum = true
		case "no-final":
			b.SkipFinalStatus = true
		case "silent":
			b.Silent = true
		default:
			return Behavior{}, fmt.Errorf("unknown simulator option %q", item)
		}
	}
	return b, nil
}

func parseBlockCount(v string) (int, int, error) {
	blockStr, countStr, hasCount := strings.Cut(v, ":")
	block, err := strconv.Atoi(blockStr)
	if err != nil || block < 0 {
		return 0, 0, fmt.Errorf("invalid block index %q", blockStr)
	}
	count := 1
	if hasCount {
		count, err = strconv.Atoi(countStr)
		if err != nil || count < 1 {
			return 0, 0, fmt.Errorf("invalid count %q", countStr)
		}
	}
	return block, count, nil
}
