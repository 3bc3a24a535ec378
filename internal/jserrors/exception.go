package jserrors

import (
	"strconv"

	"github.com/cryguy/opcore/internal/core"
)

// Format renders a structured exception the way the teacher's worker
// panic/timeout paths render Go errors: one line, location first.
func Format(exc *core.StructuredException) string {
	if exc == nil {
		return ""
	}
	if exc.ScriptName == "" {
		return exc.Message
	}
	return exc.ScriptName + ":" + strconv.Itoa(exc.Line) + ":" + strconv.Itoa(exc.Column) + ": " + exc.Message
}
