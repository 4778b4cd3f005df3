package rocforge

import (
	"context"
	"fmt"
)

// Stage is the pipeline position. Transitions are strictly forward; any
// stage failure jumps to StageFailed and the run halts.
type Stage int

const (
	StageInit Stage = iota
	StageProbing
	StageConfiguring
	StageCompiling
	StagePackaging
	StageInstalling
	StageVerifying
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageProbing:
		return "probing"
	case StageConfiguring:
		return "configuring"
	case StageCompiling:
		return "compiling"
	case StagePackaging:
		return "packaging"
	case StageInstalling:
		return "installing"
	case StageVerifying:
		return "verifying"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// OutcomeKind tags the terminal result of a run.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeMissingWorkspace
	OutcomeToolchainUnavailable
	OutcomeConfigurationFailure
	OutcomeCompileFailure
	OutcomePackagingFailure
	OutcomeInstallFailure
	OutcomeVerificationFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeMissingWorkspace:
		return "MissingWorkspace"
	case OutcomeToolchainUnavailable:
		return "ToolchainUnavailable"
	case OutcomeConfigurationFailure:
		return "ConfigurationFailure"
	case OutcomeCompileFailure:
		return "CompileFailure"
	case OutcomePackagingFailure:
		return "PackagingFailure"
	case OutcomeInstallFailure:
		return "InstallFailure"
	case OutcomeVerificationFailure:
		return "VerificationFailure"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// ExitCode maps the outcome onto the process exit code.
func (k OutcomeKind) ExitCode() int {
	if k == OutcomeSuccess {
		return 0
	}
	return 1
}

// Outcome is the terminal value of a pipeline run: the tag, the log file
// relevant to the failure (if any), and the underlying error.
type Outcome struct {
	Kind    OutcomeKind
	LogPath string
	Err     error
}

// StageFunc executes one pipeline stage and returns the path of the log it
// produced. A non-nil error halts the pipeline with the stage's failure kind.
type StageFunc func(ctx context.Context) (logPath string, err error)

type pipelineStage struct {
	stage   Stage
	failure OutcomeKind
	run     StageFunc
}

// Pipeline drives the Init-to-Done/Failed state machine. The stage
// executors are injected so tests can run the machine without invoking the
// real (30-60 minute) external builds.
type Pipeline struct {
	stages  []pipelineStage
	state   Stage
	onEnter func(Stage)
}

// NewPipeline returns a pipeline in StageInit with no stages registered.
// onEnter, when non-nil, is called as each stage is entered (the Reporter
// hooks in here); it must not block.
func NewPipeline(onEnter func(Stage)) *Pipeline {
	return &Pipeline{state: StageInit, onEnter: onEnter}
}

// AddStage appends a stage. Stages must be added in forward order;
// out-of-order registration is a programming error and panics.
func (p *Pipeline) AddStage(s Stage, failure OutcomeKind, run StageFunc) {
	if len(p.stages) > 0 && s <= p.stages[len(p.stages)-1].stage {
		panic(fmt.Sprintf("pipeline stage %v registered after %v", s, p.stages[len(p.stages)-1].stage))
	}
	if s <= StageInit || s >= StageDone {
		panic(fmt.Sprintf("cannot register terminal or initial stage %v", s))
	}
	p.stages = append(p.stages, pipelineStage{stage: s, failure: failure, run: run})
}

// State returns the pipeline's current stage.
func (p *Pipeline) State() Stage {
	return p.state
}

// Run executes the registered stages in order. The first stage error (or a
// cancelled context) moves the machine to StageFailed and returns the
// corresponding Outcome; otherwise the machine ends in StageDone with
// OutcomeSuccess.
func (p *Pipeline) Run(ctx context.Context) Outcome {
	if p.state != StageInit {
		return Outcome{
			Kind: OutcomeConfigurationFailure,
			Err:  fmt.Errorf("pipeline already ran (state %v)", p.state),
		}
	}

	for _, ps := range p.stages {
		if err := ctx.Err(); err != nil {
			p.state = StageFailed
			return Outcome{Kind: ps.failure, Err: err}
		}

		p.state = ps.stage
		if p.onEnter != nil {
			p.onEnter(ps.stage)
		}

		logPath, err := ps.run(ctx)
		if err != nil {
			p.state = StageFailed
			return Outcome{Kind: ps.failure, LogPath: logPath, Err: err}
		}
	}

	p.state = StageDone
	return Outcome{Kind: OutcomeSuccess}
}
