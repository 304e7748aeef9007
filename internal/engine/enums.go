package engine

import "strconv"

// PageSegMode mirrors the engine's page segmentation modes.
type PageSegMode int

const (
	PSM_OSD_ONLY PageSegMode = iota
	PSM_AUTO_OSD
	PSM_AUTO_ONLY
	PSM_AUTO
	PSM_SINGLE_COLUMN
	PSM_SINGLE_BLOCK_VERT_TEXT
	PSM_SINGLE_BLOCK
	PSM_SINGLE_LINE
	PSM_SINGLE_WORD
	PSM_CIRCLE_WORD
	PSM_SINGLE_CHAR
	PSM_SPARSE_TEXT
	PSM_SPARSE_TEXT_OSD
	PSM_RAW_LINE
)

var psmNames = [...]string{
	"OSD_ONLY", "AUTO_OSD", "AUTO_ONLY", "AUTO", "SINGLE_COLUMN",
	"SINGLE_BLOCK_VERT_TEXT", "SINGLE_BLOCK", "SINGLE_LINE", "SINGLE_WORD",
	"CIRCLE_WORD", "SINGLE_CHAR", "SPARSE_TEXT", "SPARSE_TEXT_OSD", "RAW_LINE",
}

func (m PageSegMode) String() string { return enumName(int(m), psmNames[:]) }

// EngineMode mirrors the engine's OCR engine modes.
type EngineMode int

const (
	OEM_TESSERACT_ONLY EngineMode = iota
	OEM_LSTM_ONLY
	OEM_TESSERACT_LSTM_COMBINED
	OEM_DEFAULT
)

var oemNames = [...]string{"TESSERACT_ONLY", "LSTM_ONLY", "TESSERACT_LSTM_COMBINED", "DEFAULT"}

func (m EngineMode) String() string { return enumName(int(m), oemNames[:]) }

// ParseEngineMode parses the numeric form used by tessedit_ocr_engine_mode.
// An empty string is OEM_DEFAULT.
func ParseEngineMode(s string) (EngineMode, error) {
	if s == "" {
		return OEM_DEFAULT, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(OEM_TESSERACT_ONLY) || n > int(OEM_DEFAULT) {
		return OEM_DEFAULT, &strconv.NumError{Func: "ParseEngineMode", Num: s, Err: strconv.ErrRange}
	}
	return EngineMode(n), nil
}

// Direction is the dominant script direction of a word.
type Direction int

const (
	DIR_NEUTRAL Direction = iota
	DIR_LEFT_TO_RIGHT
	DIR_RIGHT_TO_LEFT
	DIR_MIX
)

var dirNames = [...]string{"NEUTRAL", "LEFT_TO_RIGHT", "RIGHT_TO_LEFT", "MIX"}

func (d Direction) String() string { return enumName(int(d), dirNames[:]) }

// BlockType mirrors the engine's poly block types.
type BlockType int

const (
	PT_UNKNOWN BlockType = iota
	PT_FLOWING_TEXT
	PT_HEADING_TEXT
	PT_PULLOUT_TEXT
	PT_EQUATION
	PT_INLINE_EQUATION
	PT_TABLE
	PT_VERTICAL_TEXT
	PT_CAPTION_TEXT
	PT_FLOWING_IMAGE
	PT_HEADING_IMAGE
	PT_PULLOUT_IMAGE
	PT_HORZ_LINE
	PT_VERT_LINE
	PT_NOISE
)

var ptNames = [...]string{
	"UNKNOWN", "FLOWING_TEXT", "HEADING_TEXT", "PULLOUT_TEXT", "EQUATION",
	"INLINE_EQUATION", "TABLE", "VERTICAL_TEXT", "CAPTION_TEXT", "FLOWING_IMAGE",
	"HEADING_IMAGE", "PULLOUT_IMAGE", "HORZ_LINE", "VERT_LINE", "NOISE",
}

func (b BlockType) String() string { return enumName(int(b), ptNames[:]) }

func enumName(v int, names []string) string {
	if v < 0 || v >= len(names) {
		return ""
	}
	return names[v]
}
