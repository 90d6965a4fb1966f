package sandbox

import (
	"strings"
	"testing"

	"trainforge/internal/training"
)

func TestRenderScriptYOLO(t *testing.T) {
	t.Parallel()
	cfg := &training.Config{
		JobID:        "job-1",
		Architecture: "yolov11n",
		Epochs:       50,
		BatchSize:    8,
		ImgSize:      640,
		LearningRate: 0.001,
		Device:       "0",
	}

	script, err := RenderScript(cfg, "/mnt/c/data/ds1/data_sandbox.yaml", "/mnt/c/runs")
	if err != nil {
		t.Fatalf("Failed to render script: %v", err)
	}

	for _, want := range []string{
		"from ultralytics import YOLO",
		`YOLO("yolo11n.pt")`,
		`data="/mnt/c/data/ds1/data_sandbox.yaml"`,
		"epochs=50",
		"batch=8",
		"imgsz=640",
		"lr0=0.001",
		`device="0"`,
		`project="/mnt/c/runs"`,
		`name="job-1"`,
		`print("RESULT:"`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("Expected script to contain %q", want)
		}
	}
}

func TestRenderScriptRFDETR(t *testing.T) {
	t.Parallel()
	cfg := &training.Config{
		JobID:        "job-2",
		Architecture: "rf-detr-large",
		Epochs:       10,
		BatchSize:    4,
		LearningRate: 0.0001,
	}

	script, err := RenderScript(cfg, "/mnt/d/datasets/coco", "/mnt/d/runs")
	if err != nil {
		t.Fatalf("Failed to render script: %v", err)
	}

	for _, want := range []string{
		"from rfdetr import RFDETRLarge",
		`dataset_dir="/mnt/d/datasets/coco"`,
		"epochs=10",
		"batch_size=4",
		`print("RESULT:"`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("Expected script to contain %q", want)
		}
	}
}
