package plugins

// Identifiers claimed by client features that ship with fablink itself.
// Loading a third-party plugin under one of these ids would overwrite
// reserved resources, so such loads are rejected.
var builtinIDs = map[string]struct{}{
	"accelerometer":        {},
	"gcode-viewer":         {},
	"height-map":           {},
	"input-shaping":        {},
	"object-model-browser": {},
}

func IsBuiltin(id string) bool {
	_, ok := builtinIDs[id]
	return ok
}
