// Package langdata installs recognition language data into the engine module.
package langdata

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Language is one language code, optionally carrying its own traineddata.
type Language struct {
	Code string `json:"code"`
	Data []byte `json:"-"`
}

// FileName is the name Init expects the language's data under.
func (l Language) FileName() string {
	return l.Code + ".traineddata"
}

// Set is an ordered list of languages.
type Set []Language

// Parse splits a "+"-joined language string.
func Parse(s string) Set {
	var out Set
	for _, code := range strings.Split(s, "+") {
		if code = strings.TrimSpace(code); code != "" {
			out = append(out, Language{Code: code})
		}
	}
	return out
}

// String returns the canonical "+"-joined form passed to Init.
func (s Set) String() string {
	codes := make([]string, len(s))
	for i, l := range s {
		codes[i] = l.Code
	}
	return strings.Join(codes, "+")
}

// UnmarshalJSON accepts "eng+fra", ["eng","fra"] or
// [{"code":"foo","data":<base64 or byte array>}], mixed freely in arrays.
func (s *Set) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Parse(str)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("langs must be a string or an array: %w", err)
	}
	out := make(Set, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var code string
			if err := json.Unmarshal(item, &code); err != nil {
				return err
			}
			out = append(out, Parse(code)...)
			continue
		}
		var obj struct {
			Code string          `json:"code"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("langs[%d]: %w", i, err)
		}
		if obj.Code == "" {
			return fmt.Errorf("langs[%d]: missing code", i)
		}
		raw, err := decodeData(obj.Data)
		if err != nil {
			return fmt.Errorf("langs[%d] (%s): %w", i, obj.Code, err)
		}
		out = append(out, Language{Code: obj.Code, Data: raw})
	}
	*s = out
	return nil
}

// MarshalJSON writes the canonical string form, or the array form when any
// language carries custom data so that it survives a round trip.
func (s Set) MarshalJSON() ([]byte, error) {
	custom := false
	for _, l := range s {
		if l.Data != nil {
			custom = true
			break
		}
	}
	if !custom {
		return json.Marshal(s.String())
	}

	type withData struct {
		Code string `json:"code"`
		Data []byte `json:"data"`
	}
	items := make([]interface{}, len(s))
	for i, l := range s {
		if l.Data == nil {
			items[i] = l.Code
			continue
		}
		items[i] = withData{Code: l.Code, Data: l.Data}
	}
	return json.Marshal(items)
}

func decodeData(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(str)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("data must be base64 or a byte array: %w", err)
	}
	arr := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("data[%d]=%d is not a byte", i, v)
		}
		arr[i] = byte(v)
	}
	return arr, nil
}
