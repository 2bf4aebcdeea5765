package task

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mitchellh/mapstructure"
)

var ErrInvalidFormats = errors.New("task: media formats are not a JSON list")

// Format describes one target rendition. Raw keeps the descriptor as it was
// received so unknown fields survive into the result.
type Format struct {
	ID      int    `mapstructure:"id"`
	Ext     string `mapstructure:"ext"`
	Dest    string `mapstructure:"dest"`
	Label   string `mapstructure:"label"`
	Type    string `mapstructure:"type"`
	VCodec  string `mapstructure:"vcodec"`
	ACodec  string `mapstructure:"acodec"`
	Preset  string `mapstructure:"preset"`
	Profile string `mapstructure:"profile"`
	Ch      int    `mapstructure:"ch"`
	VF      string `mapstructure:"vf"`
	BV      string `mapstructure:"b_v"`
	AR      string `mapstructure:"ar"`
	GPU     bool   `mapstructure:"gpu"`
	Args    string `mapstructure:"args"`

	Raw map[string]any `mapstructure:"-"`
}

// IsAudio reports whether the format produces an audio-only rendition.
func (f Format) IsAudio() bool {
	return f.Type == "audio"
}

// ParseFormats splits a JSON list into raw descriptor objects. Decoding each
// one is left to DecodeFormat so a single bad entry does not sink the list.
func ParseFormats(data []byte) ([]map[string]any, error) {
	var raw []map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormats, err)
	}
	return raw, nil
}

// DecodeFormat turns a raw descriptor into a Format. Numbers encoded as
// strings and similar loose typing are accepted.
func DecodeFormat(raw map[string]any) (Format, error) {
	var f Format
	if err := mapstructure.WeakDecode(raw, &f); err != nil {
		return Format{}, fmt.Errorf("task: decode format: %w", err)
	}
	if f.Ext == "" {
		return Format{}, errors.New("task: format has no ext")
	}
	f.Raw = raw
	return f, nil
}

// annotate returns a copy of the raw descriptor carrying the published cid.
func annotate(f Format, cid string) map[string]any {
	out := make(map[string]any, len(f.Raw)+1)
	for k, v := range f.Raw {
		out[k] = v
	}
	out["cid"] = cid
	return out
}
