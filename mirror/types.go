package mirror

import (
	"fmt"
	"slices"
	"strings"
)

// Descriptor describes a single remote repository
type Descriptor struct {
	// Name is used as the local directory name of the mirror
	Name string
	// CloneURL is used to create a new mirror
	CloneURL string
	// DiskUsageKB is the size estimate of the remote, nil if unknown
	DiskUsageKB *int64
}

func (d Descriptor) size() string {
	if d.DiskUsageKB == nil {
		return "unknown"
	}
	return fmt.Sprintf("%dkb", *d.DiskUsageKB)
}

// Policy controls which repositories are mirrored and how. It is fixed for
// the duration of a run.
type Policy struct {
	blacklist map[string]bool
	// MaxDiskUsageKB skips repositories larger than this size when set
	MaxDiskUsageKB *int64
	// WithHistory selects full clones and pulls instead of shallow operations
	WithHistory bool
}

// NewPolicy creates policy with given blacklisted repository names
func NewPolicy(blacklist []string, maxDiskUsageKB *int64, withHistory bool) Policy {
	p := Policy{
		blacklist:      make(map[string]bool, len(blacklist)),
		MaxDiskUsageKB: maxDiskUsageKB,
		WithHistory:    withHistory,
	}
	for _, name := range blacklist {
		p.blacklist[name] = true
	}
	return p
}

// Blacklisted returns true if the repository must always be skipped
func (p Policy) Blacklisted(name string) bool {
	return p.blacklist[name]
}

// Blacklist returns sorted blacklisted names
func (p Policy) Blacklist() []string {
	var names []string
	for n := range p.blacklist {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (p Policy) oversized(d Descriptor) bool {
	return p.MaxDiskUsageKB != nil && d.DiskUsageKB != nil && *d.DiskUsageKB > *p.MaxDiskUsageKB
}

// Action is the decision taken for a repository
type Action string

const (
	ClonedShallow       Action = "cloned-shallow"
	ClonedFull          Action = "cloned-full"
	UpdatedShallow      Action = "updated-shallow"
	UpdatedFull         Action = "updated-full"
	SkippedBlacklist    Action = "skipped-blacklist"
	SkippedOversized    Action = "skipped-oversized"
	SkippedUnresolvable Action = "skipped-unresolvable"
	Failed              Action = "failed"
)

// Actions lists all actions in report order
var Actions = []Action{
	ClonedShallow, ClonedFull, UpdatedShallow, UpdatedFull,
	SkippedBlacklist, SkippedOversized, SkippedUnresolvable, Failed,
}

// Succeeded returns true if the mirror is present and up to date
func (a Action) Succeeded() bool {
	switch a {
	case ClonedShallow, ClonedFull, UpdatedShallow, UpdatedFull:
		return true
	}
	return false
}

// Skipped returns true for deliberate policy or input skips
func (a Action) Skipped() bool {
	return strings.HasPrefix(string(a), "skipped-")
}

// Outcome is the result of reconciling one descriptor
type Outcome struct {
	Name   string
	Action Action
	// Detail is only set for skipped and failed outcomes
	Detail string
	// Step is the git operation which failed e.g. 'fetch', 'reset' or 'clone'
	Step string
	// ExitCode of the failed step, -1 if it never ran to completion
	ExitCode int
}

// Summary aggregates outcomes of a run
type Summary struct {
	Counts map[Action]int
	Failed []Outcome
}

// Add records given outcome
func (s *Summary) Add(o Outcome) {
	if s.Counts == nil {
		s.Counts = make(map[Action]int)
	}
	s.Counts[o.Action]++
	if o.Action == Failed {
		s.Failed = append(s.Failed, o)
	}
}

// Total returns number of recorded outcomes
func (s *Summary) Total() int {
	var n int
	for _, c := range s.Counts {
		n += c
	}
	return n
}
