// Package asrselect decides which transcription backend a rough-cut run uses.
// Selection is a pure function of the request and the probed environment.
package asrselect

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeAPI    Mode = "api"
	ModeHybrid Mode = "hybrid"
)

type Policy string

const (
	PolicyLocalFirst Policy = "local-first"
	PolicyAPIFirst   Policy = "api-first"
	PolicyLocalOnly  Policy = "local-only"
	PolicyAPIOnly    Policy = "api-only"
)

const (
	KindLocal = "local"
	KindAPI   = "api"

	RuntimeWhisperCpp    = "whisper.cpp"
	RuntimeFasterWhisper = "faster-whisper"
	RuntimeOpenAIWhisper = "openai-whisper"
	RuntimeAPI           = "openai-compatible"

	DefaultWhisperCppModel    = "ggml-base.en.bin"
	DefaultFasterWhisperModel = "tiny"
	DefaultOpenAIWhisperModel = "base"
	DefaultAPIModel           = "whisper-1"
	DefaultAPIKeyEnv          = "OPENAI_API_KEY"
)

// NoLocalRuntimeError is returned when the request demands a local runtime
// and none is installed.
type NoLocalRuntimeError struct {
	Mode   Mode
	Policy Policy
	Probed []string
}

func (e *NoLocalRuntimeError) Error() string {
	return fmt.Sprintf("no local transcription runtime available (mode=%s policy=%s, probed %s)",
		e.Mode, e.Policy, strings.Join(e.Probed, ", "))
}

type Request struct {
	Mode   Mode
	Policy Policy
	// Model overrides the runtime default when set.
	Model string
	// APIKeyEnv names the credential variable; defaults to OPENAI_API_KEY.
	APIKeyEnv string
}

// Environment is everything selection is allowed to look at.
type Environment struct {
	LookPath        func(file string) (string, error)
	PythonHasModule func(module string) bool
	Getenv          func(key string) string
}

// SystemEnvironment probes the real host.
func SystemEnvironment() Environment {
	return Environment{
		LookPath:        exec.LookPath,
		PythonHasModule: pythonHasModule,
		Getenv:          os.Getenv,
	}
}

type Selection struct {
	Kind     string   `json:"kind"`
	Runtime  string   `json:"runtime"`
	Binary   string   `json:"binary,omitempty"`
	Model    string   `json:"model"`
	Warnings []string `json:"warnings,omitempty"`
	// HasCredentials reports whether the API key was present at selection time.
	HasCredentials bool `json:"-"`
}

type localRuntime struct {
	runtime string
	binary  string
}

var (
	whisperCppBinaries = []string{"whisper-cli", "whisper-cpp"}
	fasterWhisperMod   = "faster_whisper"
	openAIWhisperBin   = "whisper"
	openAIWhisperMod   = "whisper"
)

// Select applies the mode/fallback decision table.
func Select(req Request, env Environment) (Selection, error) {
	env = env.withDefaults()
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.Policy == "" {
		req.Policy = PolicyLocalFirst
	}
	keyEnv := strings.TrimSpace(req.APIKeyEnv)
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}

	local, localOK := detectLocal(env)
	hasKey := strings.TrimSpace(env.Getenv(keyEnv)) != ""
	noLocal := &NoLocalRuntimeError{Mode: req.Mode, Policy: req.Policy, Probed: probedNames()}

	switch req.Mode {
	case ModeLocal:
		if !localOK {
			return Selection{}, noLocal
		}
		return localSelection(local, req.Model), nil
	case ModeAPI:
		return apiSelection(req.Model, hasKey, keyEnv), nil
	case ModeHybrid:
	default:
		return Selection{}, fmt.Errorf("unknown transcription mode %q", req.Mode)
	}

	switch req.Policy {
	case PolicyLocalOnly:
		if !localOK {
			return Selection{}, noLocal
		}
		return localSelection(local, req.Model), nil
	case PolicyAPIOnly:
		return apiSelection(req.Model, hasKey, keyEnv), nil
	case PolicyAPIFirst:
		if hasKey {
			return apiSelection(req.Model, true, keyEnv), nil
		}
		if localOK {
			return localSelection(local, req.Model), nil
		}
		return apiSelection(req.Model, false, keyEnv), nil
	case PolicyLocalFirst:
		if localOK {
			return localSelection(local, req.Model), nil
		}
		return apiSelection(req.Model, hasKey, keyEnv), nil
	default:
		return Selection{}, fmt.Errorf("unknown fallback policy %q", req.Policy)
	}
}

// detectLocal prefers whisper.cpp, then faster-whisper, then openai-whisper.
func detectLocal(env Environment) (localRuntime, bool) {
	for _, name := range whisperCppBinaries {
		if p, err := env.LookPath(name); err == nil {
			return localRuntime{runtime: RuntimeWhisperCpp, binary: p}, true
		}
	}
	if env.PythonHasModule(fasterWhisperMod) {
		return localRuntime{runtime: RuntimeFasterWhisper, binary: "python3"}, true
	}
	if p, err := env.LookPath(openAIWhisperBin); err == nil {
		return localRuntime{runtime: RuntimeOpenAIWhisper, binary: p}, true
	}
	if env.PythonHasModule(openAIWhisperMod) {
		return localRuntime{runtime: RuntimeOpenAIWhisper, binary: "python3"}, true
	}
	return localRuntime{}, false
}

func probedNames() []string {
	out := append([]string{}, whisperCppBinaries...)
	return append(out, "python3 -m "+fasterWhisperMod, openAIWhisperBin, "python3 -m "+openAIWhisperMod)
}

func localSelection(rt localRuntime, model string) Selection {
	if strings.TrimSpace(model) == "" {
		switch rt.runtime {
		case RuntimeFasterWhisper:
			model = DefaultFasterWhisperModel
		case RuntimeOpenAIWhisper:
			model = DefaultOpenAIWhisperModel
		default:
			model = DefaultWhisperCppModel
		}
	}
	return Selection{Kind: KindLocal, Runtime: rt.runtime, Binary: rt.binary, Model: model}
}

func apiSelection(model string, hasKey bool, keyEnv string) Selection {
	if strings.TrimSpace(model) == "" {
		model = DefaultAPIModel
	}
	sel := Selection{Kind: KindAPI, Runtime: RuntimeAPI, Model: model, HasCredentials: hasKey}
	if !hasKey {
		sel.Warnings = append(sel.Warnings,
			fmt.Sprintf("%s is not set; transcript will be a best-effort stub", keyEnv))
	}
	return sel
}

func (e Environment) withDefaults() Environment {
	if e.LookPath == nil {
		e.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	}
	if e.PythonHasModule == nil {
		e.PythonHasModule = func(string) bool { return false }
	}
	if e.Getenv == nil {
		e.Getenv = func(string) string { return "" }
	}
	return e
}

func pythonHasModule(module string) bool {
	py, err := exec.LookPath("python3")
	if err != nil {
		return false
	}
	script := fmt.Sprintf("import importlib.util,sys; sys.exit(0 if importlib.util.find_spec(%q) else 1)", module)
	return exec.Command(py, "-c", script).Run() == nil
}
