package pgrest

import "strings"

type ReturnMode string

const (
	ReturnMinimal        ReturnMode = "minimal"
	ReturnRepresentation ReturnMode = "representation"
)

type Resolution string

const (
	ResolutionNone             Resolution = ""
	ResolutionMergeDuplicates  Resolution = "merge-duplicates"
	ResolutionIgnoreDuplicates Resolution = "ignore-duplicates"
)

type Prefer struct {
	Return     ReturnMode
	CountExact bool
	Resolution Resolution
}

// ParsePrefer reads a Prefer header. Unknown preferences are ignored, as
// RFC 7240 allows.
func ParsePrefer(header string) Prefer {
	p := Prefer{Return: ReturnMinimal}
	for _, part := range strings.Split(header, ",") {
		key, val, _ := strings.Cut(strings.TrimSpace(part), "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.ToLower(strings.TrimSpace(val))
		switch key {
		case "return":
			switch ReturnMode(val) {
			case ReturnMinimal, ReturnRepresentation:
				p.Return = ReturnMode(val)
			}
		case "count":
			p.CountExact = val == "exact"
		case "resolution":
			switch Resolution(val) {
			case ResolutionMergeDuplicates, ResolutionIgnoreDuplicates:
				p.Resolution = Resolution(val)
			}
		}
	}
	return p
}
