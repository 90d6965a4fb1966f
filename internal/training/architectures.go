package training

// Weight files for the supported YOLO generations. Note the v11 naming drop
// of the "v" in the upstream filenames.
var yoloWeights = map[string]string{
	"yolov8n":  "yolov8n.pt",
	"yolov8s":  "yolov8s.pt",
	"yolov8m":  "yolov8m.pt",
	"yolov8l":  "yolov8l.pt",
	"yolov8x":  "yolov8x.pt",
	"yolov11n": "yolo11n.pt",
	"yolov11s": "yolo11s.pt",
	"yolov11m": "yolo11m.pt",
	"yolov11l": "yolo11l.pt",
	"yolov11x": "yolo11x.pt",
}

var rfdetrVariants = map[string]bool{
	"rf-detr-base":  true,
	"rf-detr-large": true,
}

// WeightsFile maps an architecture tag to its pretrained weights filename.
// Unknown tags fall back to "<tag>.pt" so new upstream releases work without
// a code change.
func WeightsFile(architecture string) string {
	if w, ok := yoloWeights[architecture]; ok {
		return w
	}
	return architecture + ".pt"
}

// IsRFDETR reports whether the architecture is an RF-DETR variant, which
// takes a dataset directory rather than a manifest file.
func IsRFDETR(architecture string) bool {
	return rfdetrVariants[architecture]
}
