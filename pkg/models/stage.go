// Package models defines the pipeline run, step execution and review models shared by the orchestration engine.
package models

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownStage is returned when a stage identifier is not part of the workflow.
var ErrUnknownStage = errors.New("unknown stage")

// Stage identifies one ordered step of the course generation workflow.
type Stage string

const (
	StageIngest          Stage = "ingest"
	StageIdea            Stage = "idea"
	StageOutline         Stage = "outline"
	StageEpisodeDraft    Stage = "episode_draft"
	StageEpisodeContent  Stage = "episode_content"
	StagePractice        Stage = "practice"
	StageFinalEvaluation Stage = "final_evaluation"
)

// FanOutKind describes how a stage is split into scoped units of work.
type FanOutKind string

const (
	FanOutNone    FanOutKind = "none"
	FanOutEpisode FanOutKind = "episode"
	FanOutLevel   FanOutKind = "level"
)

// PracticeLevels is the fixed number of difficulty levels generated by the practice stage.
const PracticeLevels = 3

// StageInfo holds the static properties of a stage.
type StageInfo struct {
	Stage    Stage
	Ordinal  int
	FanOut   FanOutKind
	Progress int // progress percent reported once the run enters this stage
	Review   ReviewType
}

var stageTable = []StageInfo{
	{Stage: StageIngest, Ordinal: 1, FanOut: FanOutNone, Progress: 0},
	{Stage: StageIdea, Ordinal: 2, FanOut: FanOutNone, Progress: 5, Review: ReviewTypeIdeaSelection},
	{Stage: StageOutline, Ordinal: 3, FanOut: FanOutNone, Progress: 15},
	{Stage: StageEpisodeDraft, Ordinal: 4, FanOut: FanOutEpisode, Progress: 30},
	{Stage: StageEpisodeContent, Ordinal: 5, FanOut: FanOutEpisode, Progress: 50},
	{Stage: StagePractice, Ordinal: 6, FanOut: FanOutLevel, Progress: 70},
	{Stage: StageFinalEvaluation, Ordinal: 7, FanOut: FanOutNone, Progress: 85, Review: ReviewTypeFinalApproval},
}

// ProgressComplete is reported once the final review approves a run.
const ProgressComplete = 100

// FirstStage is the stage every new or restarted run begins with.
const FirstStage = StageIdea

// LastStage is the final stage of a run.
const LastStage = StageFinalEvaluation

// Stages returns the stages executed by a run, in order.
func Stages() []Stage {
	stages := make([]Stage, 0, len(stageTable))
	for _, info := range stageTable {
		if info.Stage == StageIngest {
			continue
		}

		stages = append(stages, info.Stage)
	}

	return stages
}

// Info returns the static properties of the stage.
func (s Stage) Info() (StageInfo, bool) {
	for _, info := range stageTable {
		if info.Stage == s {
			return info, true
		}
	}

	return StageInfo{}, false
}

// ParseStage validates a stage identifier.
func ParseStage(value string) (Stage, error) {
	stage := Stage(value)
	if _, ok := stage.Info(); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, value)
	}

	return stage, nil
}

// Valid reports whether the stage is part of the stage table.
func (s Stage) Valid() bool {
	_, ok := s.Info()

	return ok
}

// Ordinal returns the 1-based position of the stage, or 0 for unknown stages.
func (s Stage) Ordinal() int {
	info, _ := s.Info()

	return info.Ordinal
}

// FanOut returns how the stage is scoped.
func (s Stage) FanOut() FanOutKind {
	info, ok := s.Info()
	if !ok {
		return FanOutNone
	}

	return info.FanOut
}

// IsFanOut reports whether the stage runs once per episode or level.
func (s Stage) IsFanOut() bool {
	return s.FanOut() != FanOutNone
}

// Progress returns the fixed progress weight of the stage.
func (s Stage) Progress() int {
	info, _ := s.Info()

	return info.Progress
}

// ReviewGate returns the review type that pauses the run after this stage, if any.
func (s Stage) ReviewGate() (ReviewType, bool) {
	info, ok := s.Info()
	if !ok || info.Review == "" {
		return "", false
	}

	return info.Review, true
}

// Next returns the stage after s. The second value is false for the last stage.
func (s Stage) Next() (Stage, bool) {
	ordinal := s.Ordinal()
	if ordinal == 0 {
		return "", false
	}

	for _, info := range stageTable {
		if info.Ordinal == ordinal+1 {
			return info.Stage, true
		}
	}

	return "", false
}

// Previous returns the stage before s within a run. The idea stage has no predecessor.
func (s Stage) Previous() (Stage, bool) {
	ordinal := s.Ordinal()
	if ordinal <= FirstStage.Ordinal() {
		return "", false
	}

	for _, info := range stageTable {
		if info.Ordinal == ordinal-1 {
			return info.Stage, true
		}
	}

	return "", false
}

// ExpectedUnits returns the number of scoped executions a stage needs before it is complete.
func (s Stage) ExpectedUnits(episodeCount int) int {
	switch s.FanOut() {
	case FanOutEpisode:
		return episodeCount
	case FanOutLevel:
		return PracticeLevels
	default:
		return 1
	}
}

// ScopeKeys returns the scope keys of every unit of the stage, or a single nil scope.
func (s Stage) ScopeKeys(episodeCount int) []*int {
	if !s.IsFanOut() {
		return []*int{nil}
	}

	units := s.ExpectedUnits(episodeCount)

	keys := make([]*int, 0, units)
	for i := 1; i <= units; i++ {
		keys = append(keys, ScopeKey(i))
	}

	return keys
}

// IsAfter reports whether s comes later than other in the stage ordering.
func (s Stage) IsAfter(other Stage) bool {
	return s.Ordinal() > other.Ordinal()
}

// ScopeKey returns a pointer to the given scope number.
func ScopeKey(n int) *int {
	return &n
}

// ScopeValue flattens an optional scope key, mapping "no scope" to 0.
func ScopeValue(scope *int) int {
	if scope == nil {
		return 0
	}

	return *scope
}

// ScopeFromValue is the inverse of ScopeValue.
func ScopeFromValue(value int) *int {
	if value == 0 {
		return nil
	}

	return ScopeKey(value)
}

// ReviewStages returns the stages followed by a human review gate.
func ReviewStages() []Stage {
	var stages []Stage

	for _, info := range stageTable {
		if info.Review != "" {
			stages = append(stages, info.Stage)
		}
	}

	return slices.Clip(stages)
}
