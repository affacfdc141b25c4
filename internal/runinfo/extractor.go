// Package runinfo parses the run marker line emitted by the external process.
//
// The marker is one line on the process output stream:
//
//	@@slipway-run@@ {"run_id":"run-42","root":"/path/to/runs/run-42","pid":1234}
//
// The field names are an external-process contract. Output arrives in
// arbitrary chunks from a pseudoterminal, so the extractor buffers partial
// lines and tolerates the marker being split across chunk boundaries.
package runinfo

import (
	"encoding/json"
	"strings"
)

// MarkerPrefix introduces the run marker line.
const MarkerPrefix = "@@slipway-run@@"

// Info identifies a newly created run.
type Info struct {
	RunID    string `json:"run_id"`
	RootPath string `json:"root"`
	PID      int    `json:"pid"`
}

// Extractor scans streamed output chunks for the marker line and invokes its
// callback at most once. It is not safe for concurrent Feed calls; the
// process handle delivers output chunks sequentially.
type Extractor struct {
	onInfo  func(Info)
	partial string
	done    bool
}

// NewExtractor creates an extractor that calls onInfo when the marker parses.
func NewExtractor(onInfo func(Info)) *Extractor {
	return &Extractor{onInfo: onInfo}
}

// Feed consumes one output chunk.
func (e *Extractor) Feed(chunk string) {
	if e.done {
		return
	}

	e.partial += chunk
	for {
		line, rest, found := strings.Cut(e.partial, "\n")
		if !found {
			return
		}
		e.partial = rest

		info, ok := Parse(line)
		if !ok {
			continue
		}
		e.done = true
		if e.onInfo != nil {
			e.onInfo(info)
		}
		return
	}
}

// Parse attempts to decode one complete output line as a run marker.
func Parse(line string) (Info, bool) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(line, MarkerPrefix)
	if !ok {
		return Info{}, false
	}

	var info Info
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &info); err != nil {
		return Info{}, false
	}
	if strings.TrimSpace(info.RunID) == "" || strings.TrimSpace(info.RootPath) == "" {
		return Info{}, false
	}
	return info, true
}
