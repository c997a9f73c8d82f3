package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const whisperModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// LocalConfig configures the whisper.cpp CLI transcriber.
type LocalConfig struct {
	WhisperCLI       string
	WhisperModelPath string
	WhisperThreads   int
	// AutoDownload fetches a missing ggml model on first use.
	AutoDownload bool
	// ModelBaseURL overrides the model mirror.
	ModelBaseURL string
}

// WhisperCPP shells out to the whisper.cpp CLI for each transcription.
type WhisperCPP struct {
	cliPath      string
	modelPath    string
	threads      int
	autoDownload bool
	baseURL      string

	downloads singleflight.Group
}

func NewWhisperCPP(cfg LocalConfig) (*WhisperCPP, error) {
	cli := strings.TrimSpace(cfg.WhisperCLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}

	modelPath := strings.TrimSpace(cfg.WhisperModelPath)
	if modelPath == "" {
		return nil, errors.New("LOCAL_WHISPER_MODEL_PATH is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil && !cfg.AutoDownload {
		return nil, fmt.Errorf("whisper.cpp model not found: %s", modelPath)
	}

	if cfg.WhisperThreads < 0 {
		return nil, errors.New("LOCAL_WHISPER_THREADS must be >= 0")
	}

	return &WhisperCPP{
		cliPath:      cliPath,
		modelPath:    modelPath,
		threads:      whisperThreads(cfg.WhisperThreads),
		autoDownload: cfg.AutoDownload,
		baseURL:      firstNonEmpty(cfg.ModelBaseURL, whisperModelBaseURL),
	}, nil
}

func whisperThreads(n int) int {
	if n > 0 {
		return n
	}
	n = runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}

var whisperDetectedPattern = regexp.MustCompile(`auto-detected language:\s*([a-z]{2,3})`)

func (w *WhisperCPP) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return Transcript{}, err
	}
	if info.Size() == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	if err := w.ensureModel(ctx); err != nil {
		return Transcript{}, err
	}

	tmpDir, err := os.MkdirTemp("", "lingotalk-whisper-*")
	if err != nil {
		return Transcript{}, err
	}
	defer os.RemoveAll(tmpDir)
	outPrefix := filepath.Join(tmpDir, "out")

	language = strings.TrimSpace(language)
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-l", firstNonEmpty(language, "auto"),
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(w.threads),
	}

	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	injectWhisperLibraryEnv(cmd, w.cliPath)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcript{}, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return Transcript{}, fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return Transcript{}, err
	}

	detected := ""
	if m := whisperDetectedPattern.FindStringSubmatch(stderr.String()); m != nil {
		detected = m[1]
	}
	return Transcript{
		Text:     strings.TrimSpace(string(b)),
		Language: resolveLanguage(language, detected),
	}, nil
}

// ensureModel downloads the model once, sharing the download among
// concurrent first callers. Failures are retried on the next call.
func (w *WhisperCPP) ensureModel(ctx context.Context) error {
	if _, err := os.Stat(w.modelPath); err == nil {
		return nil
	}
	if !w.autoDownload {
		return fmt.Errorf("whisper.cpp model not found: %s", w.modelPath)
	}
	ch := w.downloads.DoChan(w.modelPath, func() (any, error) {
		return nil, downloadWhisperModelIfMissing(w.baseURL, w.modelPath)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func downloadWhisperModelIfMissing(baseURL, modelPath string) error {
	modelPath = strings.TrimSpace(modelPath)
	if modelPath == "" {
		return errors.New("empty model path")
	}
	if _, err := os.Stat(modelPath); err == nil {
		return nil
	}
	filename := filepath.Base(modelPath)
	if !strings.HasPrefix(filename, "ggml-") || !strings.HasSuffix(filename, ".bin") {
		return fmt.Errorf("unsupported model filename %q; expected whisper.cpp ggml model", filename)
	}
	if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/"+filename, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	tmpPath := modelPath + ".download"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = copyErr
	case closeErr != nil:
		err = closeErr
	case n <= 0:
		err = errors.New("downloaded empty model payload")
	default:
		err = os.Rename(tmpPath, modelPath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
	}
	return err
}

// injectWhisperLibraryEnv points the dynamic loader at a lib dir shipped
// next to the CLI binary.
func injectWhisperLibraryEnv(cmd *exec.Cmd, toolPath string) {
	if cmd == nil {
		return
	}
	toolPath = strings.TrimSpace(toolPath)
	if toolPath == "" {
		return
	}

	toolDir := filepath.Dir(toolPath)
	libDir := ""
	for _, candidate := range []string{
		filepath.Clean(filepath.Join(toolDir, "..", "lib")),
		filepath.Clean(filepath.Join(toolDir, "lib")),
	} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			libDir = candidate
			break
		}
	}
	if libDir == "" {
		return
	}

	env := cmd.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	env = prependPathEnv(env, "DYLD_FALLBACK_LIBRARY_PATH", libDir)
	env = prependPathEnv(env, "DYLD_LIBRARY_PATH", libDir)
	env = prependPathEnv(env, "LD_LIBRARY_PATH", libDir)
	cmd.Env = env
}

func prependPathEnv(env []string, key, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return env
	}
	prefix := key + "="
	for i := range env {
		if !strings.HasPrefix(env[i], prefix) {
			continue
		}
		current := strings.TrimPrefix(env[i], prefix)
		if pathListContains(current, value) {
			return env
		}
		if strings.TrimSpace(current) == "" {
			env[i] = prefix + value
		} else {
			env[i] = prefix + value + ":" + current
		}
		return env
	}
	return append(env, prefix+value)
}

func pathListContains(pathList, value string) bool {
	value = filepath.Clean(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, item := range strings.Split(pathList, ":") {
		if filepath.Clean(strings.TrimSpace(item)) == value {
			return true
		}
	}
	return false
}
