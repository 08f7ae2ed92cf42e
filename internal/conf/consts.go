package conf

// Detector backends
const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// Supported upload image extensions
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp"}
