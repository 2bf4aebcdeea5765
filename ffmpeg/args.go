package ffmpeg

import (
	"strconv"

	"mediatranscoder/task"
)

// nvencCodecs maps software encoders to their NVENC counterparts.
var nvencCodecs = map[string]string{
	"libx264":    "h264_nvenc",
	"h264":       "h264_nvenc",
	"libx265":    "hevc_nvenc",
	"hevc":       "hevc_nvenc",
	"libaom-av1": "av1_nvenc",
	"libsvtav1":  "av1_nvenc",
	"av1":        "av1_nvenc",
}

// BuildArgs returns the ffmpeg argument list rendering input into output
// according to f. GPU encoding is used when gpu is set or the format asks
// for it and an NVENC encoder exists for the video codec.
func BuildArgs(input, output string, f task.Format, gpu bool) ([]string, error) {
	useGPU := (gpu || f.GPU) && !f.IsAudio()

	args := []string{"-y", "-nostdin", "-hide_banner"}
	if useGPU {
		args = append(args, "-hwaccel", "cuda")
	}
	args = append(args, "-i", input)

	if f.IsAudio() {
		args = append(args, "-vn")
	} else {
		if f.VCodec != "" {
			vcodec := f.VCodec
			if useGPU {
				if nv, ok := nvencCodecs[vcodec]; ok {
					vcodec = nv
				}
			}
			args = append(args, "-c:v", vcodec)
		}
		args = appendOpt(args, "-preset", f.Preset)
		args = appendOpt(args, "-profile:v", f.Profile)
		args = appendOpt(args, "-vf", f.VF)
		args = appendOpt(args, "-b:v", f.BV)
	}

	args = appendOpt(args, "-c:a", f.ACodec)
	if f.Ch > 0 {
		args = append(args, "-ac", strconv.Itoa(f.Ch))
	}
	args = appendOpt(args, "-ar", f.AR)

	if f.Args != "" {
		extra, err := SplitArgs(f.Args)
		if err != nil {
			return nil, err
		}
		if err := SanitizeArgs(extra); err != nil {
			return nil, err
		}
		args = append(args, extra...)
	}

	// ffmpeg's last argument is the output file
	return append(args, output), nil
}

func appendOpt(args []string, name, value string) []string {
	if value == "" {
		return args
	}
	return append(args, name, value)
}
