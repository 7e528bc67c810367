package message

import (
	"fmt"
	"regexp"
	"strings"
)

// tags maps bbcode-style tag names to SGR codes. Closing tags for colors
// reset the foreground or background rather than all attributes, so tags
// can nest: "[red]red [b]bold[/b][/red]".
var tags = map[string]int{
	"b": 1, "i": 3, "u": 4, "flash": 5, "outline": 6, "negative": 7,
	"invis": 8, "strike": 9,

	"/all": 0, "/attr": 10, "/b": 22, "/i": 23, "/u": 24, "/flash": 25,
	"/outline": 26, "/negative": 27, "/strike": 29, "/fg": 39, "/bg": 49,

	"black": 30, "red": 31, "green": 32, "brown": 33, "blue": 34,
	"purple": 35, "cyan": 36, "gray": 37,

	"bgblack": 40, "bgred": 41, "bggreen": 42, "bgbrown": 43, "bgblue": 44,
	"bgpurple": 45, "bgcyan": 46, "bggray": 47,

	"hiblack": 90, "hired": 91, "higreen": 92, "hibrown": 93, "hiblue": 94,
	"hipurple": 95, "hicyan": 96, "higray": 97,

	"hibgblack": 100, "hibgred": 101, "hibggreen": 102, "hibgbrown": 103,
	"hibgblue": 104, "hibgpurple": 105, "hibgcyan": 106, "hibggray": 107,

	// aliases
	"pink": 95, "yellow": 93, "white": 97, "bgyellow": 103, "bgpink": 105,
	"bgwhite": 107,
}

var (
	tagPattern   = regexp.MustCompile(`\[/?[a-z]+\]`)
	mergePattern = regexp.MustCompile("\033\\[([\\d;]+)m\033\\[([\\d;]+)m")
)

// Colorize replaces [bracketed] tags with ANSI escape codes. Unknown tags
// are left alone. Consecutive codes are merged into one sequence.
func Colorize(s string) string {
	s = tagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		name := tag[1 : len(tag)-1]
		if code, ok := tags[name]; ok {
			return fmt.Sprintf("\033[%dm", code)
		}
		if closing, ok := strings.CutPrefix(name, "/"); ok {
			if code, known := tags[closing]; known && code >= 30 {
				if strings.Contains(closing, "bg") {
					return fmt.Sprintf("\033[%dm", tags["/bg"])
				}
				return fmt.Sprintf("\033[%dm", tags["/fg"])
			}
		}
		return tag
	})

	for {
		merged := mergePattern.ReplaceAllString(s, "\033[$1;${2}m")
		if merged == s {
			return s
		}
		s = merged
	}
}

// Strip removes known tags without emitting escape codes, for non-TTY
// output and log files.
func Strip(s string) string {
	return tagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		name := tag[1 : len(tag)-1]
		if _, ok := tags[name]; ok {
			return ""
		}
		if closing, found := strings.CutPrefix(name, "/"); found {
			if code, known := tags[closing]; known && code >= 30 {
				return ""
			}
		}
		return tag
	})
}
