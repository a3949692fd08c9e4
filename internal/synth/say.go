package synth

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// sayBackend drives the macOS `say` command and transcodes its AIFF output
// to mono 16-bit PCM WAV with `afconvert`. Prosody is injected as embedded
// [[pbas]]/[[rate]] directives ahead of the text.
type sayBackend struct {
	sayCmd     []string
	convertCmd []string
	tmpDir     string
	sampleRate int
	log        *slog.Logger
}

// NewSayBackend builds the say backend. sayCommand and convertCommand
// override the `say` and `afconvert` invocations (parsed shell-style);
// empty strings select the defaults.
func NewSayBackend(sayCommand, convertCommand, tmpDir string, sampleRate int, log *slog.Logger) (Backend, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	parser := shellwords.NewParser()
	sayCmd := []string{"say"}
	if sayCommand != "" {
		parsed, err := parser.Parse(sayCommand)
		if err != nil {
			return nil, fmt.Errorf("parse say command: %w", err)
		}
		if len(parsed) == 0 {
			return nil, fmt.Errorf("say command empty")
		}
		sayCmd = parsed
	}
	convertCmd := []string{"afconvert"}
	if convertCommand != "" {
		parsed, err := parser.Parse(convertCommand)
		if err != nil {
			return nil, fmt.Errorf("parse convert command: %w", err)
		}
		if len(parsed) == 0 {
			return nil, fmt.Errorf("convert command empty")
		}
		convertCmd = parsed
	}

	return &sayBackend{
		sayCmd:     sayCmd,
		convertCmd: convertCmd,
		tmpDir:     tmpDir,
		sampleRate: sampleRate,
		log:        log,
	}, nil
}

func (b *sayBackend) Name() string { return "say" }

func (b *sayBackend) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	tmp, err := os.CreateTemp(b.tmpDir, "otoha-say-*.aiff")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	aiffPath := tmp.Name()
	tmp.Close()
	defer os.Remove(aiffPath)

	wavPath := strings.TrimSuffix(aiffPath, ".aiff") + ".wav"
	defer os.Remove(wavPath)

	embedded := fmt.Sprintf("[[pbas %d]][[rate %d]]%s", req.Pitch, req.Rate, req.Text)

	args := append([]string{}, b.sayCmd[1:]...)
	args = append(args, "-v", req.Voice, "-o", aiffPath, embedded)
	cmd := exec.CommandContext(ctx, b.sayCmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: say: %v, stderr: %s", ErrSynthesisFailed, err, stderr.String())
	}

	convertArgs := append([]string{}, b.convertCmd[1:]...)
	convertArgs = append(convertArgs,
		"-f", "WAVE",
		"-d", fmt.Sprintf("LEI16@%d", b.sampleRate),
		"--src-complexity", "bats",
		"-c", "1",
		aiffPath, wavPath,
	)
	convert := exec.CommandContext(ctx, b.convertCmd[0], convertArgs...)
	var convertStderr bytes.Buffer
	convert.Stderr = &convertStderr
	if err := convert.Run(); err != nil {
		return nil, fmt.Errorf("%w: afconvert: %v, stderr: %s", ErrSynthesisFailed, err, convertStderr.String())
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read transcoded output: %v", ErrSynthesisFailed, err)
	}
	if len(data) <= 44 {
		return nil, fmt.Errorf("%w: no audio data produced", ErrSynthesisFailed)
	}

	b.log.Debug("say synthesis done",
		slog.Int("bytes", len(data)),
		slog.String("aiff", filepath.Base(aiffPath)))

	return data, nil
}

// Voices parses `say -v ?` output: one voice per line, name then language.
func (b *sayBackend) Voices(ctx context.Context) ([]Voice, error) {
	args := append([]string{}, b.sayCmd[1:]...)
	args = append(args, "-v", "?")
	cmd := exec.CommandContext(ctx, b.sayCmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list voices: %v, stderr: %s", err, stderr.String())
	}
	return parseVoiceList(stdout.String()), nil
}

func parseVoiceList(output string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		v := Voice{Name: parts[0], Language: "unknown"}
		if len(parts) > 1 {
			v.Language = parts[1]
		}
		voices = append(voices, v)
	}
	return voices
}
