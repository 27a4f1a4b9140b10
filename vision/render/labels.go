package render

// HumanLabel is the COCO class index of a person detection
const HumanLabel = 1

// Verbs are the HICO-DET action names in column order of the node labels
var Verbs = []string{
	"adjust", "assemble", "block", "blow", "board", "break", "brush_with", "buy",
	"carry", "catch", "chase", "check", "clean", "control", "cook", "cut",
	"cut_with", "direct", "drag", "dribble", "drink_with", "drive", "dry", "eat",
	"eat_at", "exit", "feed", "fill", "flip", "flush", "fly", "greet",
	"grind", "groom", "herd", "hit", "hold", "hop_on", "hose", "hug",
	"hunt", "inspect", "install", "jump", "kick", "kiss", "lasso", "launch",
	"lick", "lie_on", "lift", "light", "load", "lose", "make", "milk",
	"move", "no_interaction", "open", "operate", "pack", "paint", "park", "pay",
	"peel", "pet", "pick", "pick_up", "point", "pour", "pull", "push",
	"race", "read", "release", "repair", "ride", "row", "run", "sail",
	"scratch", "serve", "set", "shear", "sign", "sip", "sit_at", "sit_on",
	"slide", "smell", "spin", "squeeze", "stab", "stand_on", "stand_under", "stick",
	"stir", "stop_at", "straddle", "swing", "tag", "talk_on", "teach", "text_on",
	"throw", "tie", "toast", "train", "turn", "type_on", "walk", "wash",
	"watch", "wave", "wear", "wield", "zip",
}

// Objects are the COCO detection classes, index 0 being background
var Objects = []string{
	"background", "person", "bicycle", "car", "motorcycle", "airplane", "bus",
	"train", "truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag",
	"tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana",
	"apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed", "dining table",
	"toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock",
	"vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ObjectName returns the class name of label, or "unknown"
func ObjectName(label int) string {
	if label < 0 || label >= len(Objects) {
		return "unknown"
	}
	return Objects[label]
}

// VerbName returns the action name of column j, or "unknown"
func VerbName(j int) string {
	if j < 0 || j >= len(Verbs) {
		return "unknown"
	}
	return Verbs[j]
}
