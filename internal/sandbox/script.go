package sandbox

import (
	"strings"
	"text/template"

	"trainforge/internal/apperrors"
	"trainforge/internal/training"
)

// Entry scripts executed inside the sandbox. The script is the protocol
// counterpart of ProgressParser: ultralytics prints "N/M" epoch headers on
// its own, and the final print emits the sentinel result line.
const yoloScript = `#!/usr/bin/env python3
import json
import sys

from ultralytics import YOLO

def main():
    model = YOLO({{printf "%q" .Weights}})
    results = model.train(
        data={{printf "%q" .DataPath}},
        epochs={{.Epochs}},
        batch={{.BatchSize}},
        imgsz={{.ImgSize}},
        lr0={{.LearningRate}},
        device={{printf "%q" .Device}},
        project={{printf "%q" .OutputDir}},
        name={{printf "%q" .JobID}},
        exist_ok=True,
    )
    metrics = {
        "mAP50": float(results.box.map50),
        "mAP50-95": float(results.box.map),
        "precision": float(results.box.mp),
        "recall": float(results.box.mr),
    }
    best = str(results.save_dir / "weights" / "best.pt")
    print("RESULT:" + json.dumps({"weights_path": best, "metrics": metrics}), flush=True)

if __name__ == "__main__":
    sys.exit(main())
`

const rfdetrScript = `#!/usr/bin/env python3
import json
import os
import sys

from rfdetr import {{.RFDETRClass}}

def main():
    model = {{.RFDETRClass}}()
    model.train(
        dataset_dir={{printf "%q" .DataPath}},
        epochs={{.Epochs}},
        batch_size={{.BatchSize}},
        lr={{.LearningRate}},
        output_dir={{printf "%q" .OutputDir}},
    )
    best = os.path.join({{printf "%q" .OutputDir}}, "checkpoint_best_total.pth")
    print("RESULT:" + json.dumps({"weights_path": best, "metrics": {}}), flush=True)

if __name__ == "__main__":
    sys.exit(main())
`

var (
	yoloTemplate   = template.Must(template.New("yolo").Parse(yoloScript))
	rfdetrTemplate = template.Must(template.New("rfdetr").Parse(rfdetrScript))
)

type scriptParams struct {
	JobID        string
	Weights      string
	DataPath     string
	Epochs       int
	BatchSize    int
	ImgSize      int
	LearningRate float64
	Device       string
	OutputDir    string
	RFDETRClass  string
}

// RenderScript produces the sandbox entry script for cfg. All filesystem
// paths in the script are sandbox paths; the caller is responsible for
// translating the host manifest path before calling.
func RenderScript(cfg *training.Config, dataPath, outputDir string) (string, error) {
	params := scriptParams{
		JobID:        cfg.JobID,
		Weights:      training.WeightsFile(cfg.Architecture),
		DataPath:     dataPath,
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		ImgSize:      cfg.ImgSize,
		LearningRate: cfg.LearningRate,
		Device:       cfg.Device,
		OutputDir:    outputDir,
	}

	tmpl := yoloTemplate
	if training.IsRFDETR(cfg.Architecture) {
		tmpl = rfdetrTemplate
		params.RFDETRClass = rfdetrClass(cfg.Architecture)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", apperrors.Internal("sandbox.script", err)
	}
	return buf.String(), nil
}

func rfdetrClass(architecture string) string {
	if strings.HasSuffix(architecture, "large") {
		return "RFDETRLarge"
	}
	return "RFDETRBase"
}
