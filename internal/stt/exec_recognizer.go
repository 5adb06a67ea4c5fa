package stt

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/loqalabs/loqa-mic/internal/config"
	"github.com/mattn/go-shellwords"
)

const maxExecLine = 1 << 20

type execEngine struct {
	cmd []string
	cfg config.STTConfig
}

type execRequest struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

type execResponse struct {
	State string `json:"state"`
}

// NewExecEngine runs an external recognizer. Each recognizer owns one long-lived
// process that receives a JSON line per chunk on stdin and answers with a JSON
// line carrying "state" plus vosk-style "partial", "text" or "alternatives".
func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Close() error { return nil }

func (e *execEngine) NewRecognizer(sampleRate int) (Recognizer, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	base := e.cmd[0]
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--sample-rate", strconv.Itoa(sampleRate))
	if e.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.ModelPath)
	}
	if e.cfg.MaxAlternatives > 0 {
		cmdArgs = append(cmdArgs, "--max-alternatives", strconv.Itoa(e.cfg.MaxAlternatives))
	}

	command := exec.Command(base, cmdArgs...)
	command.Stderr = os.Stderr
	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stt stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stt stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start stt command: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxExecLine)
	return &execRecognizer{
		cmd:        command,
		stdin:      stdin,
		enc:        json.NewEncoder(stdin),
		scanner:    scanner,
		sampleRate: sampleRate,
	}, nil
}

type execRecognizer struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	enc        *json.Encoder
	scanner    *bufio.Scanner
	sampleRate int
	last       []byte
}

func (r *execRecognizer) SampleRate() int { return r.sampleRate }

func (r *execRecognizer) AcceptWaveform(samples []int16) (DecodingState, error) {
	req := execRequest{
		PCMBase64:  base64.StdEncoding.EncodeToString(PCMBytes(samples)),
		SampleRate: r.sampleRate,
	}
	if err := r.enc.Encode(req); err != nil {
		return StateFailed, fmt.Errorf("write to stt command: %w", err)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return StateFailed, fmt.Errorf("read from stt command: %w", err)
		}
		return StateFailed, io.ErrUnexpectedEOF
	}
	line := append([]byte(nil), r.scanner.Bytes()...)

	var resp execResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return StateFailed, fmt.Errorf("decode stt response: %w", err)
	}
	r.last = line
	switch resp.State {
	case "running":
		return StateRunning, nil
	case "finalized":
		return StateFinalized, nil
	case "failed":
		return StateFailed, nil
	default:
		return StateFailed, fmt.Errorf("unknown stt state %q", resp.State)
	}
}

func (r *execRecognizer) PartialResult() (PartialResult, error) {
	if r.last == nil {
		return PartialResult{}, nil
	}
	return DecodePartialResult(r.last)
}

func (r *execRecognizer) Result() (CompleteResult, error) {
	if r.last == nil {
		return SingleResult{}, nil
	}
	return DecodeCompleteResult(r.last)
}

func (r *execRecognizer) Close() error {
	_ = r.stdin.Close()
	return r.cmd.Wait()
}
