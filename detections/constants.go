package detections

const (
	// InputSize is the fixed square inference resolution the model was exported at.
	InputSize = 640

	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45

	// DefaultMaxSize caps the longer side of a preprocessed image.
	DefaultMaxSize = 1920

	// MaxAcceleratorSessions caps concurrent inference. The shared accelerator
	// cannot safely serve more simultaneous requests than this.
	MaxAcceleratorSessions = 2

	jpegQuality = 90
)

// PCBDefectClasses is the label set of the six-class PCB defect model, in the
// channel order of the exported network.
var PCBDefectClasses = []string{
	"missing_hole",
	"mouse_bite",
	"open_circuit",
	"short",
	"spur",
	"spurious_copper",
}
