package sandbox

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"trainforge/internal/apperrors"
	"trainforge/internal/training"
)

// ResultSentinel prefixes the single line the trainer prints when it has a
// final result. Everything after the prefix is a JSON document.
const ResultSentinel = "RESULT:"

// maxLineSize bounds a single stream line. Trainer output is normally short,
// but the result JSON carries a full metrics map.
const maxLineSize = 1 << 20

// ProgressParser interprets the line stream of a trainer subprocess.
//
// Epoch progress is recognized heuristically: any whitespace-separated token
// of the form "N/M" with integer N and M is treated as epoch N of M. That is
// how the upstream trainers print their per-epoch header, and it tolerates
// cosmetic changes to the rest of the line.
type ProgressParser struct{}

// NewProgressParser creates a progress parser.
func NewProgressParser() *ProgressParser {
	return &ProgressParser{}
}

// Parse consumes the stream until EOF. Epoch lines are delivered through
// onProgress in stream order; the sentinel line yields the result. A stream
// that ends without a sentinel is a protocol violation: the subprocess died
// or the trainer was silently changed, and neither may be mistaken for
// success.
func (p *ProgressParser) Parse(r io.Reader, onProgress training.ProgressFunc) (*training.Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var result *training.Result
	for scanner.Scan() {
		line := scanner.Text()

		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), ResultSentinel); ok {
			parsed, err := parseResult(payload)
			if err != nil {
				return nil, err
			}
			result = parsed
			continue
		}

		if progress, ok := parseEpochLine(line); ok && onProgress != nil {
			onProgress(progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Execution("sandbox.stream", err)
	}
	if result == nil {
		return nil, apperrors.Protocol("sandbox.stream", "trainer output ended without a result line")
	}
	return result, nil
}

func parseResult(payload string) (*training.Result, error) {
	var doc struct {
		WeightsPath string             `json:"weights_path"`
		Metrics     map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, apperrors.Protocol("sandbox.stream", "malformed result line: "+err.Error())
	}
	if doc.WeightsPath == "" {
		return nil, apperrors.Protocol("sandbox.stream", "result line is missing weights_path")
	}
	return &training.Result{WeightsPath: doc.WeightsPath, Metrics: doc.Metrics}, nil
}

func parseEpochLine(line string) (training.Progress, bool) {
	for _, token := range strings.Fields(line) {
		idx := strings.IndexByte(token, '/')
		if idx <= 0 || idx == len(token)-1 {
			continue
		}
		epoch, err := strconv.Atoi(token[:idx])
		if err != nil {
			continue
		}
		total, err := strconv.Atoi(token[idx+1:])
		if err != nil {
			continue
		}
		if epoch < 0 || total <= 0 || epoch > total {
			continue
		}
		return training.Progress{Epoch: epoch, TotalEpochs: total}, true
	}
	return training.Progress{}, false
}
