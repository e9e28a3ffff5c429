package cli

import (
	"time"

	"kbs2/internal/generator"
)

// nowUnix returns the current time as a Unix timestamp, the format
// spec.md §3 requires for a record's timestamp field.
func nowUnix() int64 {
	return time.Now().Unix()
}

// generatorGenerate is a thin re-export so subcommand files don't need to
// import internal/generator directly just for this one call.
func generatorGenerate(g generator.Generator) (string, error) {
	return generator.Generate(g)
}
