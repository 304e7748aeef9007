/**
 * Job wire format
 *
 * Jobs arrive as {jobId, action, payload} documents. The image may be a base64
 * string (optionally a data: URL), a Node.js Buffer object or a plain byte array.
 */

package worker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/langdata"
	"github.com/adverant/nexus/ocr-worker/internal/params"
)

// Action names a job type.
type Action string

const (
	ActionRecognize Action = "recognize"
	ActionDetect    Action = "detect"
)

// DefaultLangs is used when a job names no languages.
const DefaultLangs = "eng"

// Job is one unit of work.
type Job struct {
	ID      string  `json:"jobId"`
	Action  Action  `json:"action"`
	Payload Payload `json:"payload"`
}

// Options configure engine and language loading for a job.
type Options struct {
	CorePath string `json:"corePath,omitempty"`
	langdata.Options
}

// Payload is the action-specific job input.
type Payload struct {
	Image   []byte        `json:"image"`
	Langs   langdata.Set  `json:"langs,omitempty"`
	Options Options       `json:"options"`
	Params  params.Custom `json:"params,omitempty"`
}

// Languages returns the requested languages, defaulting to English.
func (p *Payload) Languages() langdata.Set {
	if len(p.Langs) == 0 {
		return langdata.Parse(DefaultLangs)
	}
	return p.Langs
}

// UnmarshalJSON handles the image formats producers send.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type Alias Payload
	aux := &struct {
		Image interface{} `json:"image,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	img, err := decodeImage(aux.Image)
	if err != nil {
		return err
	}
	p.Image = img
	return nil
}

func decodeImage(v interface{}) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil

	case string:
		// data:image/png;base64,....
		if strings.HasPrefix(v, "data:") {
			idx := strings.Index(v, ",")
			if idx < 0 {
				return nil, fmt.Errorf("malformed data URL image")
			}
			v = v[idx+1:]
		}
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 image: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		// Node.js Buffer object format
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		return byteArray(dataArray)

	case []interface{}:
		return byteArray(v)

	default:
		return nil, fmt.Errorf("image must be a base64 string, Buffer object or byte array, got %T", v)
	}
}

func byteArray(values []interface{}) ([]byte, error) {
	out := make([]byte, len(values))
	for i, val := range values {
		f, ok := val.(float64)
		if !ok || f < 0 || f > 255 || f != float64(int(f)) {
			return nil, fmt.Errorf("invalid byte value in image data at index %d", i)
		}
		out[i] = byte(f)
	}
	return out, nil
}

// DecodeJob parses a job document.
func DecodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, fmt.Errorf("job is missing jobId")
	}
	return &job, nil
}

// peekJob extracts whatever identifies a job from a document that failed to
// decode, so the failure can still be reported to the right listener.
func peekJob(data []byte) (string, Action) {
	var head struct {
		ID     string `json:"jobId"`
		Action Action `json:"action"`
	}
	_ = json.Unmarshal(data, &head)
	return head.ID, head.Action
}
