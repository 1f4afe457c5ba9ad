package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aurora-historian/engine/internal/aurerr"
)

// Validate checks instance against the engine config schema, returning an
// error rather than fataling the process: this can be called mid-run
// (e.g. before a config reload), not only once at startup.
func Validate(instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("engineConfig.json", engineConfigSchema)
	if err != nil {
		return aurerr.New(aurerr.KindInvalidArgument, "config.Validate", fmt.Errorf("compiling schema: %w", err))
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return aurerr.New(aurerr.KindInvalidArgument, "config.Validate", fmt.Errorf("unmarshal: %w", err))
	}
	if err := sch.Validate(v); err != nil {
		return aurerr.New(aurerr.KindInvalidArgument, "config.Validate", err)
	}
	return nil
}
