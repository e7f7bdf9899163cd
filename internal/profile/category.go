package profile

// Category tags a frame with a coarse classification rendered in the
// Gecko document's category table and used by the frontend to color
// the stack chart.
type Category int

const (
	CategoryOther Category = iota
	CategoryNative
	CategoryJIT
	CategoryKernel
	CategoryJS
)

// Subcategory refines Category, currently only meaningful for
// CategoryJIT (the compilation tier).
type Subcategory int

const (
	SubcategoryNone Subcategory = iota
	SubcategoryJitInterpreter
	SubcategoryJitBaseline
	SubcategoryJitOptimizing
)

// categoryTable's names and colors are rendered verbatim into the Gecko
// document's category table; order here fixes the category indices
// referenced by frames.
var categoryTable = []struct {
	name  string
	color string
}{
	CategoryOther:  {"Other", "grey"},
	CategoryNative: {"Native", "blue"},
	CategoryJIT:    {"JIT", "orange"},
	CategoryKernel: {"Kernel", "red"},
	CategoryJS:     {"JavaScript", "yellow"},
}

// subcategoryNames are the per-category subcategory label lists the
// Gecko schema nests under each category table entry.
var subcategoryNames = map[Category][]string{
	CategoryJIT: {"Interpreter", "Baseline", "Optimizing"},
}

func subcategoryIndex(sub Subcategory) int {
	switch sub {
	case SubcategoryJitInterpreter:
		return 0
	case SubcategoryJitBaseline:
		return 1
	case SubcategoryJitOptimizing:
		return 2
	default:
		return 0
	}
}

// CategoryForJitTier maps a classified JIT tier to the
// (Category, Subcategory) pair its frame is tagged with.
func CategoryForJitTier(tier JitTier) (Category, Subcategory) {
	switch tier {
	case JitTierInterpreter:
		return CategoryJIT, SubcategoryJitInterpreter
	case JitTierBaseline:
		return CategoryJIT, SubcategoryJitBaseline
	case JitTierOptimizing:
		return CategoryJIT, SubcategoryJitOptimizing
	default:
		return CategoryJIT, SubcategoryNone
	}
}

// FrameMode discriminates whether an unmapped address's synthetic
// frame represents kernel or user-mode code. ClassifyAddressMode
// derives it from the address itself (the high bit of a 64-bit AVMA)
// on every platform; the sample's platform origin is not consulted.
type FrameMode int

const (
	FrameModeUser FrameMode = iota
	FrameModeKernel
)

// ClassifyAddressMode derives FrameMode from a raw AVMA the way
// Windows addresses self-describe: kernel-mode addresses occupy the
// top half of the 64-bit address space.
func ClassifyAddressMode(avma uint64) FrameMode {
	if avma&(1<<63) != 0 {
		return FrameModeKernel
	}
	return FrameModeUser
}
