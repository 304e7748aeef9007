// Package params resolves per-job engine parameters against the worker defaults.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
)

// Parameter names the pipeline itself interprets.
const (
	EngineModeKey   = "tessedit_ocr_engine_mode"
	PageSegModeKey  = "tessedit_pageseg_mode"
	CharWhitelist   = "tessedit_char_whitelist"
	CreatePDF       = "tessedit_create_pdf"
	CreateHOCR      = "tessedit_create_hocr"
	CreateTSV       = "tessedit_create_tsv"
	CreateBox       = "tessedit_create_box"
	CreateUNLV      = "tessedit_create_unlv"
	CreateOSD       = "tessedit_create_osd"
	TextOnlyPDF     = "textonly_pdf"
	PDFName         = "pdf_name"
	PDFTitle        = "pdf_title"
	PDFAutoDownload = "pdf_auto_download"
	PDFBin          = "pdf_bin"
)

// Param is one name/value pair.
type Param struct {
	Name  string
	Value string
}

var defaults = []Param{
	{EngineModeKey, "1"},
	{PageSegModeKey, "6"},
	{CharWhitelist, ""},
	{CreatePDF, "0"},
	{CreateHOCR, "1"},
	{CreateTSV, "1"},
	{CreateBox, "0"},
	{CreateUNLV, "0"},
	{CreateOSD, "0"},
	{TextOnlyPDF, "0"},
	{PDFName, "tesseract-ocr-result"},
	{PDFTitle, "Tesseract OCR Result"},
	{PDFAutoDownload, "0"},
	{PDFBin, "0"},
}

// hostOnly are keys consumed by the worker, never by the engine.
var hostOnly = map[string]bool{
	PDFName:         true,
	PDFTitle:        true,
	PDFAutoDownload: true,
	PDFBin:          true,
}

// IsHostOption reports whether name is handled by the worker rather than the engine.
func IsHostOption(name string) bool {
	return hostOnly[name]
}

// IsOutputOption reports whether name only selects which outputs the worker
// renders. The tessedit_create_ family and textonly_pdf are read from the
// resolved set after recognition and are not engine variables.
func IsOutputOption(name string) bool {
	return name == TextOnlyPDF || strings.HasPrefix(name, "tessedit_create_")
}

// Defaults returns a copy of the documented defaults in order.
func Defaults() []Param {
	return append([]Param(nil), defaults...)
}

// Custom holds caller-supplied overrides as decoded from a job payload.
type Custom map[string]string

// UnmarshalJSON accepts string, number and boolean values and keeps their
// string form. null leaves a key unset.
func (c *Custom) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("params must be an object: %w", err)
	}
	out := make(Custom, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || string(v) == "null":
			continue
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("param %s: %w", k, err)
			}
			out[k] = s
		case string(v) == "true" || string(v) == "false":
			out[k] = string(v)
		default:
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("param %s must be a string, number or boolean", k)
			}
			out[k] = n.String()
		}
	}
	*c = out
	return nil
}

// Set is the resolved, ordered parameter list for one job.
type Set struct {
	order []string
	vals  map[string]string
}

// Resolve merges custom over the defaults. Defaults keep their documented
// order; extra keys follow sorted by name.
func Resolve(custom Custom) Set {
	s := Set{vals: make(map[string]string, len(defaults)+len(custom))}
	for _, p := range defaults {
		s.order = append(s.order, p.Name)
		s.vals[p.Name] = p.Value
	}
	var extra []string
	for k, v := range custom {
		if _, ok := s.vals[k]; !ok {
			extra = append(extra, k)
		}
		s.vals[k] = v
	}
	sort.Strings(extra)
	s.order = append(s.order, extra...)
	return s
}

// Get returns the value for name.
func (s Set) Get(name string) (string, bool) {
	v, ok := s.vals[name]
	return v, ok
}

// Value returns the value for name, or "" when absent.
func (s Set) Value(name string) string {
	return s.vals[name]
}

// Enabled reports whether a flag parameter is switched on.
func (s Set) Enabled(name string) bool {
	v := s.vals[name]
	return v == "1" || v == "true"
}

// Len returns the number of parameters.
func (s Set) Len() int { return len(s.order) }

// All returns every parameter in resolution order.
func (s Set) All() []Param {
	out := make([]Param, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, Param{k, s.vals[k]})
	}
	return out
}

// Variables returns every parameter except the engine mode, which is
// consumed by Init instead of SetVariable.
func (s Set) Variables() []Param {
	out := make([]Param, 0, len(s.order))
	for _, k := range s.order {
		if k == EngineModeKey {
			continue
		}
		out = append(out, Param{k, s.vals[k]})
	}
	return out
}

// EngineMode parses tessedit_ocr_engine_mode.
func (s Set) EngineMode() (engine.EngineMode, error) {
	m, err := engine.ParseEngineMode(s.vals[EngineModeKey])
	if err != nil {
		return m, fmt.Errorf("invalid %s %q: %w", EngineModeKey, s.vals[EngineModeKey], err)
	}
	return m, nil
}

// PageSegMode parses tessedit_pageseg_mode. ok is false when the value is not a
// known mode.
func (s Set) PageSegMode() (engine.PageSegMode, bool) {
	n, err := strconv.Atoi(s.vals[PageSegModeKey])
	if err != nil || n < int(engine.PSM_OSD_ONLY) || n > int(engine.PSM_RAW_LINE) {
		return engine.PSM_SINGLE_BLOCK, false
	}
	return engine.PageSegMode(n), true
}

// Map returns the parameters as a plain map.
func (s Set) Map() map[string]string {
	out := make(map[string]string, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}
