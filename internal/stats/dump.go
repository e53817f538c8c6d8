package stats

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/google/pprof/profile"
)

// Sample is one task's accounting snapshot, the unit WriteJSON
// serializes for cmd/profdump to pick up.
type Sample struct {
	Pid      int    `json:"pid"`
	Priority int    `json:"priority"`
	Stride   uint64 `json:"stride"`
	UserNS   int64  `json:"user_ns"`
	SysNS    int64  `json:"sys_ns"`
}

// Dump is a full accounting snapshot across every live task at the
// moment it was taken.
type Dump struct {
	Samples []Sample `json:"samples"`
}

// WriteJSON serializes d to w.
func WriteJSON(w io.Writer, d Dump) error {
	return json.NewEncoder(w).Encode(d)
}

// ReadJSON deserializes a Dump from r, the format cmd/profdump consumes.
func ReadJSON(r io.Reader) (Dump, error) {
	var d Dump
	err := json.NewDecoder(r).Decode(&d)
	return d, err
}

// ToProfile converts d into a pprof profile.Profile with two sample
// types (stride, cumulative scheduler stride; cpu-nanoseconds, user+sys
// time), one sample per task, labeled by pid, so scheduling fairness and
// task runtime can be inspected with `go tool pprof`.
func ToProfile(d Dump) *profile.Profile {
	strideType := &profile.ValueType{Type: "stride", Unit: "count"}
	cpuType := &profile.ValueType{Type: "cpu", Unit: "nanoseconds"}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{strideType, cpuType},
		PeriodType: cpuType,
		Period:     1,
	}

	taskFn := &profile.Function{ID: 1, Name: "task"}
	p.Function = []*profile.Function{taskFn}

	for i, s := range d.Samples {
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: taskFn}},
		}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(s.Stride), s.UserNS + s.SysNS},
			Label: map[string][]string{
				"pid": {strconv.Itoa(s.Pid)},
			},
			NumLabel: map[string][]int64{
				"priority": {int64(s.Priority)},
			},
		})
	}
	return p
}
