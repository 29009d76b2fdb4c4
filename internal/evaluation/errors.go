package evaluation

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and test with
// errors.Is; only ErrDiscovery is allowed to stop a run.
var (
	ErrCacheCorrupt      = errors.New("cache artifact corrupt")
	ErrStatement         = errors.New("sandbox statement failed")
	ErrSandboxConnection = errors.New("sandbox connection failed")
	ErrAnalysis          = errors.New("analysis service failed")
	ErrPersistence       = errors.New("persisting evaluation failed")
	ErrDiscovery         = errors.New("quest discovery failed")
)
