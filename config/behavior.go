package config

import "time"

// SourceSelectionMode chooses how a pipeline walks its source list.
type SourceSelectionMode string

const (
	SourceRoundRobin SourceSelectionMode = "ROUND_ROBIN"
	SourceRandom     SourceSelectionMode = "RANDOM"
)

// BehaviorSettings is the pacing profile of one account. Higher levels
// behave more aggressively: shorter delays, deeper history scans, more
// posts per run.
type BehaviorSettings struct {
	RequestDelay        time.Duration
	Jitter              time.Duration
	HistoryLimit        int
	MaxPostsPerRun      int
	FloodAntiblock      bool
	FloodMaxSec         int
	SourceSelection     SourceSelectionMode
	SkipPostProbability float64
}

var behaviorProfiles = map[int]BehaviorSettings{
	1: {
		RequestDelay:        3 * time.Second,
		Jitter:              2 * time.Second,
		HistoryLimit:        15,
		MaxPostsPerRun:      1,
		FloodAntiblock:      true,
		FloodMaxSec:         600,
		SourceSelection:     SourceRandom,
		SkipPostProbability: 0.25,
	},
	2: {
		RequestDelay:        2 * time.Second,
		Jitter:              1500 * time.Millisecond,
		HistoryLimit:        20,
		MaxPostsPerRun:      1,
		FloodAntiblock:      true,
		FloodMaxSec:         450,
		SourceSelection:     SourceRandom,
		SkipPostProbability: 0.15,
	},
	3: {
		RequestDelay:        time.Second,
		Jitter:              time.Second,
		HistoryLimit:        30,
		MaxPostsPerRun:      1,
		FloodAntiblock:      true,
		FloodMaxSec:         300,
		SourceSelection:     SourceRoundRobin,
		SkipPostProbability: 0.05,
	},
	4: {
		RequestDelay:        700 * time.Millisecond,
		Jitter:              500 * time.Millisecond,
		HistoryLimit:        40,
		MaxPostsPerRun:      2,
		FloodAntiblock:      true,
		FloodMaxSec:         180,
		SourceSelection:     SourceRoundRobin,
		SkipPostProbability: 0,
	},
	5: {
		RequestDelay:        400 * time.Millisecond,
		Jitter:              300 * time.Millisecond,
		HistoryLimit:        50,
		MaxPostsPerRun:      3,
		FloodAntiblock:      false,
		FloodMaxSec:         120,
		SourceSelection:     SourceRoundRobin,
		SkipPostProbability: 0,
	},
}

// ResolveBehavior returns the pacing profile for a level, falling back
// to the middle profile for out-of-range values.
func ResolveBehavior(level int) BehaviorSettings {
	if s, ok := behaviorProfiles[level]; ok {
		return s
	}
	return behaviorProfiles[3]
}
