package convert

import (
	"regexp"
	"strconv"
	"time"
)

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// ffmpegProgress turns ffmpeg's stderr into percentages. The first
// "Duration:" line is the total; every "time=" line is the position.
type ffmpegProgress struct {
	total time.Duration
	last  int
}

func newFFmpegProgress(floor int) *ffmpegProgress {
	return &ffmpegProgress{last: floor}
}

// parse returns a new percentage when line advances progress.
func (p *ffmpegProgress) parse(line string) (int, bool) {
	if p.total == 0 {
		if m := durationRe.FindStringSubmatch(line); m != nil {
			p.total = parseClock(m[1], m[2], m[3])
			return 0, false
		}
	}
	if p.total <= 0 {
		return 0, false
	}
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pos := parseClock(m[1], m[2], m[3])
	pct := int(float64(pos) / float64(p.total) * 100)
	if pct > 99 {
		pct = 99
	}
	if pct <= p.last {
		return 0, false
	}
	p.last = pct
	return pct, true
}

func parseClock(h, m, s string) time.Duration {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.ParseFloat(s, 64)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
}

func ffmpegArgs(input, output, format string) []string {
	args := []string{"-y", "-nostdin", "-hide_banner", "-i", input}
	if IsAudio(format) {
		args = append(args, "-vn")
	}
	return append(args, output)
}
