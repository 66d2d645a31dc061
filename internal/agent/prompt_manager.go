package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rahul/sceneforge/internal/knowledge"
	"github.com/rahul/sceneforge/internal/observability"
	"go.uber.org/zap"
)

const (
	plannerFile  = "planner.md"
	analyzerFile = "analyzer.md"
)

const defaultAnalyzerPrompt = `You review scene-building requests before any work is planned.
Decide whether the request can be planned as stated. If something essential is missing or ambiguous
(dimensions, counts, materials, which existing entity is meant), call ask_clarification with short,
concrete questions, offering options where a small set of answers is likely.
If the request is clear enough, reply with a one-sentence restatement of the goal and do not call any tool.`

const defaultPlannerPrompt = `You turn scene-building requests into executable plans.
Call propose_plan exactly once. Break the work into small steps that each change the scene in one
verifiable way. Give every step a unique integer index starting at 0, a short label, a precise
description, and the indices of the steps it depends on. Steps must not depend on themselves or form
cycles. List the tools a step is expected to use. Record hard requirements from the user as constraints.`

// PromptManager loads prompt files from a directory and falls back to
// built-in prompts when they are missing.
type PromptManager struct {
	Directory string
	Logger    *observability.Logger
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetWorkerPrompt joins every markdown file in the directory except the
// planner and analyzer prompts. identity, soul, capabilities,
// worker_directive and user come first, in that order.
func (pm *PromptManager) GetWorkerPrompt() (string, error) {
	if pm == nil || pm.Directory == "" {
		return knowledge.DefaultSystemPrompt, nil
	}
	files, err := os.ReadDir(pm.Directory)
	if errors.Is(err, fs.ErrNotExist) {
		return knowledge.DefaultSystemPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	order := map[string]int{
		"identity.md":         1,
		"soul.md":             2,
		"capabilities.md":     3,
		"worker_directive.md": 4,
		"user.md":             5,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".md") || name == plannerFile || name == analyzerFile {
			continue
		}
		path := filepath.Join(pm.Directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			pm.Logger.Zap().Warn("failed to read prompt file", zap.String("path", path), zap.Error(err))
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return knowledge.DefaultSystemPrompt, nil
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) GetPlannerPrompt() (string, error) {
	return pm.read(plannerFile, defaultPlannerPrompt)
}

func (pm *PromptManager) GetAnalyzerPrompt() (string, error) {
	return pm.read(analyzerFile, defaultAnalyzerPrompt)
}

func (pm *PromptManager) read(name, fallback string) (string, error) {
	if pm == nil || pm.Directory == "" {
		return fallback, nil
	}
	path := filepath.Join(pm.Directory, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}
