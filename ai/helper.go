package ai

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/internal/util"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/sym"
)

const (
	// MaxSourceChars is how much of the script head is sent for analysis
	MaxSourceChars = 2000
	// MaxOutputChars is how much of the output tail is sent for analysis
	MaxOutputChars = 2000

	// dummyAPIKey is shipped in seed data and never valid
	dummyAPIKey = "sk-dummy-key-for-testing"

	degradedAnalysis = "Error analysis could not be performed."
	degradedSolution = "AI analysis failed: "
)

// Help is the AI explanation of one failed execution
type Help struct {
	ExecutionID int64
	Error       string // the execution output
	Analysis    string
	Solution    string
	Cached      bool
}

// Execution ledger operations used by Helper
type Ledger interface {
	GetWithDetails(ctx context.Context, id int64) (*ledger.Details, error)
	SetAIHelp(ctx context.Context, id int64, analysis, solution string) error
}

// HelperDependencies wires a Helper
type HelperDependencies struct {
	Ledger    Ledger
	Settings  catalog.SettingsLookup
	Analyzers AnalyzerSource
	Logger    *zap.SugaredLogger

	// ReadFile defaults to os.ReadFile
	ReadFile func(path string) ([]byte, error)
}

// Helper answers "why did this execution fail". Results are cached on the
// execution row; once both fields are set the model is never asked again.
type Helper struct {
	ledger    Ledger
	settings  catalog.SettingsLookup
	analyzers AnalyzerSource
	readFile  func(string) ([]byte, error)
	logger    *zap.SugaredLogger
}

// NewHelper creates a Helper
func NewHelper(deps HelperDependencies) *Helper {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	readFile := deps.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	return &Helper{
		ledger:    deps.Ledger,
		settings:  deps.Settings,
		analyzers: deps.Analyzers,
		readFile:  readFile,
		logger:    log.With(logger.FieldComponent, "ai-help", logger.FieldSymbol, sym.Exec),
	}
}

// GetHelp returns the cached explanation for a failed execution, or asks
// the analyzer for one and caches it. Analyzer failures do not surface as
// errors; they become a degraded explanation that is cached like any other.
func (h *Helper) GetHelp(ctx context.Context, executionID int64) (*Help, error) {
	exec, err := h.ledger.GetWithDetails(ctx, executionID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, errors.NewNotFoundError("Failed execution not found")
		}
		return nil, err
	}
	if exec.Status != ledger.StatusFailed {
		return nil, errors.NewPreconditionFailedError("Failed execution not found")
	}

	if exec.AIAnalysis != nil && *exec.AIAnalysis != "" && exec.AISolution != nil && *exec.AISolution != "" {
		return &Help{
			ExecutionID: exec.ID,
			Error:       exec.Output,
			Analysis:    *exec.AIAnalysis,
			Solution:    *exec.AISolution,
			Cached:      true,
		}, nil
	}

	enabled, err := h.enabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, errors.NewPreconditionFailedError("AI help is disabled in settings")
	}

	apiKey, err := h.apiKey(ctx)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.NewPreconditionFailedError("OpenAI API key not configured")
	}

	if exec.ScriptID == 0 {
		return nil, errors.NewNotFoundError("Script not found")
	}

	log := h.logger.With(logger.FieldExecutionID, exec.ID, logger.FieldScriptID, exec.ScriptID)
	analysis, solution := h.analyze(ctx, log, apiKey, exec)

	if err := h.ledger.SetAIHelp(ctx, exec.ID, analysis, solution); err != nil {
		return nil, errors.Wrap(err, "failed to save AI analysis")
	}
	log.Infow("AI help computed")

	return &Help{
		ExecutionID: exec.ID,
		Error:       exec.Output,
		Analysis:    analysis,
		Solution:    solution,
	}, nil
}

func (h *Helper) analyze(ctx context.Context, log *zap.SugaredLogger, apiKey string, exec *ledger.Details) (string, string) {
	source, err := h.readFile(exec.ScriptPath)
	if err != nil {
		log.Errorw("Failed to read script for AI analysis", "path", exec.ScriptPath, logger.FieldError, err)
		return degradedAnalysis, degradedSolution + err.Error()
	}

	analysis, solution, err := h.analyzers.For(apiKey).Analyze(ctx,
		exec.ScriptName,
		util.TruncateHead(string(source), MaxSourceChars),
		util.TruncateTail(exec.Output, MaxOutputChars),
	)
	if err != nil {
		log.Errorw("Error analyzing script error with OpenAI", logger.FieldError, err)
		return degradedAnalysis, degradedSolution + err.Error()
	}
	return analysis, solution
}

// enabled reads enable_ai_help, falling back to ENABLE_AI_HELP, default true.
func (h *Helper) enabled(ctx context.Context) (bool, error) {
	v, err := h.settings.Get(ctx, catalog.SettingEnableAIHelp, "")
	if err != nil {
		return false, err
	}
	if v == "" {
		v, err = h.settings.Get(ctx, catalog.SettingEnableAIHelpEnv, "true")
		if err != nil {
			return false, err
		}
	}
	return strings.EqualFold(strings.TrimSpace(v), "true"), nil
}

// apiKey prefers OPENAI_API_KEY over openai_api_key; the seed dummy key
// counts as unset.
func (h *Helper) apiKey(ctx context.Context) (string, error) {
	for _, key := range []string{catalog.SettingOpenAIKeyEnv, catalog.SettingOpenAIKey} {
		v, err := h.settings.Get(ctx, key, "")
		if err != nil {
			return "", err
		}
		if v = strings.TrimSpace(v); v != "" && v != dummyAPIKey {
			return v, nil
		}
	}
	return "", nil
}
